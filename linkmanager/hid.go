package linkmanager

import (
	"fmt"

	"github.com/flynn/hid"
	"github.com/nobonobo/joycon"
)

// ProductJoyConR is the USB product id of a right Joy-Con.
const ProductJoyConR uint16 = 0x2007

// Device is an open HID device. hid.Device values satisfy it.
type Device interface {
	Close()
	Write([]byte) error
	ReadCh() <-chan []byte
	ReadError() error
}

// Candidate identifies a paired controller.
type Candidate struct {
	Path      string
	ProductID uint16
}

// Finder lists paired controllers.
type Finder func() ([]Candidate, error)

// Opener opens the device at path and reports its product id.
type Opener func(path string) (Device, uint16, error)

func findJoyConR() ([]Candidate, error) {
	devices, err := joycon.Search(joycon.JoyConR)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(devices))
	for _, d := range devices {
		candidates = append(candidates, Candidate{Path: d.Path, ProductID: ProductJoyConR})
	}
	return candidates, nil
}

func openHID(path string) (Device, uint16, error) {
	info, err := hid.ByPath(path)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup %s: %w", path, err)
	}
	dev, err := info.Open()
	if err != nil {
		return nil, info.ProductID, fmt.Errorf("open %s: %w", path, err)
	}
	return dev, info.ProductID, nil
}
