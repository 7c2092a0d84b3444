package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
	"github.com/hkevin01/wifi-radar/internal/csi/l1packets/network"
	"github.com/hkevin01/wifi-radar/internal/csi/l2signal"
	"github.com/hkevin01/wifi-radar/internal/csi/l5tracks"
	"github.com/hkevin01/wifi-radar/internal/csi/monitor"
	"github.com/hkevin01/wifi-radar/internal/csi/pipeline"
	"github.com/hkevin01/wifi-radar/internal/csi/visualiser"
	"github.com/hkevin01/wifi-radar/internal/monitoring"
	"github.com/hkevin01/wifi-radar/internal/recorder"
)

type logFlags struct {
	ops, diag, trace string
}

// apply opens the three log destinations and points every package at
// them. The returned func closes any files opened.
func (f logFlags) apply(stderr io.Writer) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, fh := range files {
			fh.Close()
		}
	}
	open := func(dest string) (io.Writer, error) {
		switch dest {
		case "":
			return nil, nil
		case "-":
			return stderr, nil
		}
		fh, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		files = append(files, fh)
		return fh, nil
	}

	ops, err := open(f.ops)
	if err != nil {
		closeAll()
		return nil, err
	}
	diag, err := open(f.diag)
	if err != nil {
		closeAll()
		return nil, err
	}
	trace, err := open(f.trace)
	if err != nil {
		closeAll()
		return nil, err
	}

	setLogWriters(ops, diag, trace)
	if ops != nil {
		monitoring.SetLogger(monitoring.WriterLogger(ops))
	} else {
		monitoring.SetLogger(nil)
	}
	return closeAll, nil
}

func setLogWriters(ops, diag, trace io.Writer) {
	l1packets.SetLogWriters(ops, diag, trace)
	network.SetLogWriters(ops, diag, trace)
	l2signal.SetLogWriters(ops, diag, trace)
	l5tracks.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
	recorder.SetLogWriters(ops, diag, trace)
	visualiser.SetLogWriters(ops, diag, trace)
	monitor.SetLogWriters(ops, diag, trace)
}
