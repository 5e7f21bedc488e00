// Package rembg provides the background-removal capability: given an image it
// returns an image of identical dimensions with the background made transparent.
package rembg

import (
	"context"
	"fmt"
	"image"
	"strings"
)

const (
	RemoteRemoverType = "remote"
	KeyRemoverType    = "key"
)

type Remover interface {
	Name() string
	// Ready reports whether the remover can serve requests. It is checked once at startup.
	Ready(ctx context.Context) error
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Options selects and configures a Remover. Only the block matching Type is used.
type Options struct {
	Type   string
	Remote RemoteOptions
	Key    KeyOptions
}

func NewRemover(opts Options) (Remover, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case "", RemoteRemoverType:
		remover, err := NewRemoteRemover(opts.Remote)
		if err != nil {
			return nil, err
		}
		return remover, nil
	case KeyRemoverType:
		remover, err := NewKeyRemover(opts.Key)
		if err != nil {
			return nil, err
		}
		return remover, nil
	default:
		return nil, fmt.Errorf("unsupported remover type: %s", opts.Type)
	}
}

// checkDimensions ensures the remover kept the pixel dimensions of the input.
func checkDimensions(in, out image.Image) error {
	ib, ob := in.Bounds(), out.Bounds()
	if ib.Dx() != ob.Dx() || ib.Dy() != ob.Dy() {
		return fmt.Errorf("remover changed image dimensions from %dx%d to %dx%d", ib.Dx(), ib.Dy(), ob.Dx(), ob.Dy())
	}
	return nil
}
