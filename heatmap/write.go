package heatmap

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// WriteLayer marshals the feature layer to path as GeoJSON. A path
// ending in .gz is gzip-compressed.
func WriteLayer(ctx context.Context, path string, result *Result) error {
	data, err := result.Features.MarshalJSON()
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	var w io.Writer = out.Writer(ctx)
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(w)
		w = gz
	}
	once := errors.Once{}
	_, werr := w.Write(data)
	once.Set(werr)
	if gz != nil {
		once.Set(gz.Close())
	}
	once.Set(out.Close(ctx))
	return once.Err()
}
