// Command acorndump is an example consumer of package acorn: given a
// database directory, it opens the database (running recovery) and prints
// the content of one page. It exists to exercise the public Engine API
// end to end, not as a supported operator tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mattnlane/acorn"
)

func main() {
	dir := flag.String("dir", "", "database directory")
	segmentNum := flag.Uint("segment", 0, "segment number")
	pageNum := flag.Uint("page", 0, "page number")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "acorndump: -dir is required")
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "acorndump:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	e, err := acorn.Open(*dir, acorn.Config{}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "acorndump: open:", err)
		os.Exit(1)
	}
	defer e.Close()

	if genNum, ok, err := e.CheckpointGeneration(); err != nil {
		fmt.Fprintln(os.Stderr, "acorndump: checkpoint pointer:", err)
	} else if ok {
		fmt.Printf("current checkpoint generation: %d\n", genNum)
	}

	addr := acorn.PageAddress{SegmentNum: uint32(*segmentNum), PageNum: uint16(*pageNum)}
	buf, err := e.Read(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "acorndump: read:", err)
		os.Exit(1)
	}
	if buf == nil {
		fmt.Printf("segment %d page %d: never written\n", *segmentNum, *pageNum)
		return
	}
	fmt.Printf("segment %d page %d: %d bytes\n", *segmentNum, *pageNum, len(buf))
	os.Stdout.Write(buf)
}
