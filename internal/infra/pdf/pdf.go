package pdf

import (
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrInvalidPDF = errors.New("downloaded artifact is not a valid PDF")

type inspector struct {
	conf *model.Configuration
}

func NewInspector() *inspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &inspector{conf: conf}
}

// PageCount validates the file at path and returns its number of pages.
func (i *inspector) PageCount(path string) (int, error) {
	if err := api.ValidateFile(path, i.conf); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return n, nil
}

type noop struct{}

// NewNoop skips inspection when output.validate_pdf is off.
func NewNoop() noop { return noop{} }

func (noop) PageCount(string) (int, error) { return 0, nil }
