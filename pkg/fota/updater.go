// Package fota fetches a firmware image through the modem, strips the
// transport framing and programs it into flash.
package fota

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Fetcher downloads files from the release server.
type Fetcher interface {
	Initialize(ctx context.Context, ssid, password string) error
	FetchVersion(ctx context.Context, dest []byte) (int, error)
	FetchFirmware(ctx context.Context, file string, dest []byte) (int, error)
}

// Programmer persists the image.
type Programmer interface {
	WriteBytes(addr uint32, data []byte) error
	Read(addr uint32, buf []byte)
}

// DropCounter counts bytes lost by the receive channel.
type DropCounter interface {
	Dropped() uint32
}

// Reporter receives progress events.
type Reporter interface {
	Report(Event)
}

// ReporterFunc is the func form of Reporter.
type ReporterFunc func(Event)

// Report implements Reporter.
func (f ReporterFunc) Report(ev Event) {
	f(ev)
}

// Stage is a step of an update.
type Stage int

// Stages
const (
	StageConnect Stage = iota
	StageVersion
	StageDownload
	StageParse
	StageWrite
	StageVerify
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageConnect:  "connect",
	StageVersion:  "version",
	StageDownload: "download",
	StageParse:    "parse",
	StageWrite:    "write",
	StageVerify:   "verify",
	StageDone:     "done",
	StageFailed:   "failed",
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Event reports entering a stage. Err is set for StageFailed and Failed
// names the stage which failed.
type Event struct {
	Stage   Stage
	Failed  Stage
	Version string
	Size    int
	Err     error
}

// Result describes an installed image.
type Result struct {
	Manifest Manifest
	File     string
	Address  uint32
	Size     int
	CRC32    uint32
}

const maxManifestSize = 256

// Updater runs the fetch, de-frame, program pipeline. Buffers are
// allocated once by NewUpdater and reused by every run.
type Updater struct {
	Config

	// Console receives stage banners, may be nil.
	Console  io.Writer
	Reporter Reporter

	fetcher  Fetcher
	flash    Programmer
	drops    DropCounter
	scratch  []byte
	image    []byte
	manifest []byte
	readback []byte
}

// NewUpdater creates an Updater. drops is the modem receive channel, it may
// be nil.
func NewUpdater(conf *Config, fetcher Fetcher, flash Programmer, drops DropCounter) *Updater {
	u := &Updater{
		Config:   *conf,
		fetcher:  fetcher,
		flash:    flash,
		drops:    drops,
		scratch:  make([]byte, conf.ScratchSize),
		image:    make([]byte, conf.MaxImageSize),
		manifest: make([]byte, maxManifestSize),
	}
	if conf.Verify {
		u.readback = make([]byte, conf.MaxImageSize)
	}
	return u
}

type run struct {
	*Updater
	override string
	stage    Stage
	version  string
	size     int
}

func (r *run) enter(stage Stage, banner string) {
	r.stage = stage
	if r.Console != nil && banner != "" {
		fmt.Fprintf(r.Console, "STAGE: %s....\r\n", banner)
	}
	glog.V(1).Infof("fota: %s", stage)
	r.report(Event{Stage: stage})
}

func (r *run) report(ev Event) {
	if r.Reporter != nil {
		ev.Version, ev.Size = r.version, r.size
		r.Reporter.Report(ev)
	}
}

func (r *run) dropped() uint32 {
	if r.drops == nil {
		return 0
	}
	return r.drops.Dropped()
}

// fetch runs one download and fails if receive bytes were lost meanwhile.
func (r *run) fetch(get func() (int, error)) (int, error) {
	before := r.dropped()
	n, err := get()
	if err != nil {
		return n, err
	}
	if lost := r.dropped() - before; lost != 0 {
		return n, errors.Wrapf(ErrTruncated, "%d bytes dropped", lost)
	}
	return n, nil
}

// RunUpdate connects to the network, downloads the version file and the
// firmware and programs the image at StartAddress. On error the
// previously installed application may be partially overwritten only if
// the failure happened in StageWrite or StageVerify.
func (u *Updater) RunUpdate(ctx context.Context, ssid, password string) (*Result, error) {
	return u.RunUpdateFile(ctx, ssid, password, "")
}

// RunUpdateFile is RunUpdate downloading file instead of the firmware named
// by the version file or FirmwareFile. The size and checksum from the
// version file are not applied to an overriding file.
func (u *Updater) RunUpdateFile(ctx context.Context, ssid, password, file string) (*Result, error) {
	r := &run{Updater: u, override: file}
	res, err := r.run(ctx, ssid, password)
	if err != nil {
		glog.Errorf("fota: %s: %v", r.stage, err)
		if u.Console != nil {
			fmt.Fprintf(u.Console, "STAGE: Update failed: %v\r\n", err)
		}
		r.report(Event{Stage: StageFailed, Failed: r.stage, Err: err})
		return nil, err
	}
	glog.Infof("fota: installed %s, %d bytes at %#08x", res.Manifest.Version, res.Size, res.Address)
	r.enter(StageDone, "Firmware update complete")
	return res, nil
}

func (r *run) run(ctx context.Context, ssid, password string) (*Result, error) {
	r.enter(StageConnect, "Connecting to the network")
	if err := r.fetcher.Initialize(ctx, ssid, password); err != nil {
		return nil, err
	}

	r.enter(StageVersion, "Getting the version")
	n, err := r.fetch(func() (int, error) {
		return r.fetcher.FetchVersion(ctx, r.scratch)
	})
	if err != nil {
		return nil, err
	}
	vn, err := Deframe(r.manifest, r.scratch[:n])
	if err != nil {
		return nil, errors.Wrap(err, "version file")
	}
	manifest, err := ParseManifest(r.manifest[:vn])
	if err != nil {
		return nil, err
	}
	r.version = manifest.Version
	glog.Infof("fota: server version %s", manifest.Version)
	named := manifest.File
	if named == "" {
		named = r.FirmwareFile
	}
	file := named
	if r.override != "" {
		file = r.override
	}
	if file != named {
		glog.Warningf("fota: downloading %s instead of %s, size and crc32 not checked", file, named)
	}

	r.enter(StageDownload, "Getting the firmware")
	if n, err = r.fetch(func() (int, error) {
		return r.fetcher.FetchFirmware(ctx, file, r.scratch)
	}); err != nil {
		return nil, err
	}

	r.enter(StageParse, "Parsing the firmware")
	size, err := Deframe(r.image, r.scratch[:n])
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrEmptyImage
	}
	image := r.image[:size]
	r.size = size
	if file == named {
		if err = manifest.Check(image); err != nil {
			return nil, err
		}
	}

	r.enter(StageWrite, "Writing the firmware to memory")
	if err = r.flash.WriteBytes(r.StartAddress, image); err != nil {
		return nil, err
	}

	if r.Verify {
		r.enter(StageVerify, "Verifying the firmware")
		if len(r.readback) < size {
			r.readback = make([]byte, r.MaxImageSize)
		}
		readback := r.readback[:size]
		r.flash.Read(r.StartAddress, readback)
		if !bytes.Equal(readback, image) {
			return nil, errors.Wrapf(ErrVerify, "%#08x+%d", r.StartAddress, size)
		}
	}

	return &Result{
		Manifest: manifest,
		File:     file,
		Address:  r.StartAddress,
		Size:     size,
		CRC32:    Checksum(image),
	}, nil
}
