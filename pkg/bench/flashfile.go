package bench

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/flash/sim"
)

// LoadImage restores the flash contents from fn. A missing file leaves the
// flash erased.
func LoadImage(dev *sim.Controller, base uint32, fn string) error {
	data, err := os.ReadFile(fn)
	if os.IsNotExist(err) {
		glog.V(1).Infof("flash image %s not found, starting erased", fn)
		return nil
	}
	if err != nil {
		return err
	}
	if err = dev.Load(base, data); err != nil {
		return errors.Wrapf(err, "load %s", fn)
	}
	glog.V(1).Infof("flash image %s loaded, %d bytes", fn, len(data))
	return nil
}

// SaveImage writes the flash contents to fn, replacing it atomically.
func SaveImage(dev *sim.Controller, fn string) error {
	tmp, err := os.CreateTemp(filepath.Dir(fn), filepath.Base(fn)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(dev.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "save %s", fn)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "save %s", fn)
	}
	return os.Rename(tmp.Name(), fn)
}
