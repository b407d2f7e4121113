package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/appstate"
	"lesnet-viewer/internal/catalog"
	"lesnet-viewer/internal/config"
	"lesnet-viewer/internal/grid"
	"lesnet-viewer/internal/jobs"
	"lesnet-viewer/internal/layers"
	"lesnet-viewer/internal/mae"
	"lesnet-viewer/pkg/geotiff"
)

type env struct {
	client   *api.Client
	settings *config.UserSettings
	log      logrus.FieldLogger
	out      io.Writer
}

func (e *env) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "run":
		return e.run(ctx, args)
	case "list":
		return e.list(ctx, args)
	case "value":
		return e.value(ctx, args)
	case "mae":
		return e.mae(ctx, args)
	case "export":
		return e.export(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func flagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// runView reports job progress on the log and ends the wait on a notice.
type runView struct {
	log  logrus.FieldLogger
	done chan error
}

func (v *runView) RenderStatus(s jobs.Status) {
	if s.Text == "" {
		return
	}
	entry := v.log.WithField("state", s.State)
	if s.QueuePosition > 0 {
		entry = entry.WithField("queue_position", s.QueuePosition)
	}
	entry.Info(s.Text)
}

func (v *runView) ShowNotice(n jobs.Notice) {
	select {
	case v.done <- errors.New(n.Message):
	default:
	}
}

func (v *runView) HideNotice() {}

func (v *runView) QueueNotification(position int) {
	v.log.WithField("queue_position", position).Info("Run queued behind other jobs")
}

func (e *env) run(ctx context.Context, args []string) error {
	fs := flagSet("run")
	lake := fs.StringP("lake", "l", "", "Lake id (erie, michigan, ontario, superior)")
	date := fs.StringP("date", "d", "", `Run time, "YYYY-MM-DD HH:00" UTC`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	view := &runView{log: e.log, done: make(chan error, 1)}
	folder := make(chan string, 1)
	client := jobs.NewClient(e.client, appstate.New(0, 0), view, jobs.Options{
		PollInterval: e.settings.PollInterval(),
		SettleDelay:  0,
		MaxFailures:  e.settings.MaxPollFailures,
	}, e.log)
	defer client.Close()
	client.OnCompleted(nil, func(f string) { folder <- f })

	if _, err := client.Submit(ctx, *lake, *date); err != nil {
		return err
	}

	select {
	case f := <-folder:
		fmt.Fprintln(e.out, f)
		return nil
	case err := <-view.done:
		return err
	case <-ctx.Done():
		client.Cancel()
		return ctx.Err()
	}
}

func (e *env) list(ctx context.Context, args []string) error {
	fs := flagSet("list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := catalog.New(e.client, e.settings.CatalogRetries, e.log).Refresh(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tRUN TIME\tLAKE")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Folder, entry.Label, entry.Lake.Name)
	}
	return w.Flush()
}

func (e *env) loadGrid(ctx context.Context, folder, layer string) (grid.ValueGrid, grid.Bounds, error) {
	doc, err := e.client.LayerValues(ctx, folder, layer)
	if err != nil {
		return nil, grid.Bounds{}, fmt.Errorf("failed to load %s: %w", layer, err)
	}
	bounds, err := grid.NewBounds(doc.Georeferencing)
	if err != nil {
		md, mdErr := e.client.DataMetadata(ctx, folder)
		if mdErr != nil {
			return nil, grid.Bounds{}, fmt.Errorf("failed to load metadata: %w", mdErr)
		}
		if bounds, err = grid.NewBounds(md.Layer(layer).Georeferencing); err != nil {
			return nil, grid.Bounds{}, fmt.Errorf("layer %s: %w", layer, err)
		}
	}
	return doc.Values, bounds, nil
}

func (e *env) value(ctx context.Context, args []string) error {
	fs := flagSet("value")
	folder := fs.StringP("folder", "f", "", "Dataset folder")
	layer := fs.StringP("layer", "l", layers.QPETarget, "Layer name")
	lat := fs.Float64("lat", 0, "Latitude")
	lng := fs.Float64("lng", 0, "Longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" {
		return errors.New("--folder is required")
	}

	values, bounds, err := e.loadGrid(ctx, *folder, *layer)
	if err != nil {
		return err
	}
	v, ok := grid.Lookup(values, bounds, grid.LatLng{Lat: *lat, Lng: *lng})
	if !ok {
		return fmt.Errorf("%.4f, %.4f is outside %s", *lat, *lng, *layer)
	}
	fmt.Fprintln(e.out, grid.Readout(v, layers.Units(*layer)))
	return nil
}

func (e *env) mae(ctx context.Context, args []string) error {
	fs := flagSet("mae")
	folder := fs.StringP("folder", "f", "", "Dataset folder")
	layer := fs.StringP("layer", "l", layers.LESNetA, "Layer name")
	reference := fs.StringP("reference", "r", e.settings.ReferenceLayer, "Reference layer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" {
		return errors.New("--folder is required")
	}

	values, _, err := e.loadGrid(ctx, *folder, *layer)
	if err != nil {
		return err
	}
	ref, _, err := e.loadGrid(ctx, *folder, *reference)
	if err != nil {
		return err
	}
	res, err := mae.Compute(values, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s (%d cells)\n", mae.Format(res), res.Pairs)
	return nil
}

func (e *env) export(ctx context.Context, args []string) error {
	fs := flagSet("export")
	folder := fs.StringP("folder", "f", "", "Dataset folder")
	layer := fs.StringP("layer", "l", layers.QPETarget, "Layer name")
	output := fs.StringP("output", "o", "", "Output file (default <layer>.tif)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *folder == "" {
		return errors.New("--folder is required")
	}
	if *output == "" {
		*output = *layer + ".tif"
	}

	values, bounds, err := e.loadGrid(ctx, *folder, *layer)
	if err != nil {
		return err
	}
	if values.Rows() == 0 {
		return fmt.Errorf("layer %s has no values", *layer)
	}
	box := geotiff.LatLngBox{South: bounds.LatBottom, West: bounds.LonLeft, North: bounds.LatTop, East: bounds.LonRight}
	tags, err := geotiff.Tags(box, values.Cols(), values.Rows(), geotiff.EPSG_WGS84)
	if err != nil {
		return err
	}

	// Value grids store the southern row first
	rows := slices.Clone(values)
	slices.Reverse(rows)

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := geotiff.EncodeFloat32(f, rows, tags); err != nil {
		f.Close()
		return fmt.Errorf("failed to write GeoTIFF: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write GeoTIFF: %w", err)
	}
	e.log.WithField("path", *output).Infof("Exported %s (%dx%d)", *layer, values.Cols(), values.Rows())
	return nil
}
