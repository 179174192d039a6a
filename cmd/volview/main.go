// Command-line interface to the volview case viewer.
// Serves the web viewer and renders slices of local NIfTI-1 files.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/janelia-flyem/volview/nifti"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/server"
	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for http communication.  Overrides the config file.
	httpAddress = flag.String("http", "", "")

	// Default window of the render command: "range" or "percentile".
	defaultWindow = flag.String("window", "range", "")
)

const helpMessage = `
volview serves volumetric scans of a case roster for review

Usage: volview [options] <command>

      -http       =string   Address for HTTP communication.  Overrides the config file.
      -window     =string   Default window of the render command: range or percentile.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve  <config.toml>
	info   <volume file>
	render <volume file> <axis> <index> <out.png> [wc=<center>] [ww=<width>] [max=<pixels>]
	synth  <out.nii.gz> [nx ny nz]
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		volview.Verbose = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	switch args[0] {
	case "serve":
		return DoServe(ctx, args[1:])
	case "info":
		return DoInfo(args[1:])
	case "render":
		return DoRender(args[1:])
	case "synth":
		return DoSynth(args[1:])
	case "about":
		fmt.Printf("volview %s (%s, %s/%s)\n", volview.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	}
	return fmt.Errorf("unknown command %q, try 'volview help'", args[0])
}

// DoServe runs the web server until interrupted.
func DoServe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("serve needs the path of a config file")
	}
	cfg, err := server.LoadConfig(args[0])
	if err != nil {
		return err
	}
	if *httpAddress != "" {
		cfg.Server.HTTPAddress = *httpAddress
	}
	cfg.Logging.SetLogger()
	defer volview.Shutdown()

	s, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Serve(ctx)
}

func readVolumeHeader(filename string) (volume.Header, int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return volume.Header{}, 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return volume.Header{}, 0, err
	}
	h, err := nifti.ReadHeader(f)
	return h, fi.Size(), err
}

// DoInfo prints the header metadata of a volume file as JSON.
func DoInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info needs one volume file")
	}
	h, size, err := readVolumeHeader(args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(render.MetadataOf(h), "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	voxels := uint64(h.Shape.NumVoxels())
	fmt.Printf("%s on disk, %s decoded\n", humanize.IBytes(uint64(size)), humanize.IBytes(voxels*uint64(h.Datatype.BytesPerVoxel())))
	return nil
}

// DoRender writes one windowed slice of a volume file as PNG.
func DoRender(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("render needs <volume file> <axis> <index> <out.png>")
	}
	axis, err := volview.ParseAxis(args[1])
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad slice index %q", args[2])
	}
	var center, width render.Optional
	var maxDim int
	for _, setting := range args[4:] {
		key, value, found := strings.Cut(setting, "=")
		if !found {
			return fmt.Errorf("expected <key>=<value>, got %q", setting)
		}
		switch key {
		case "wc":
			center, err = render.ParseOptional(key, value)
		case "ww":
			width, err = render.ParseOptional(key, value)
		case "max":
			maxDim, err = strconv.Atoi(value)
		default:
			err = fmt.Errorf("unknown render setting %q", key)
		}
		if err != nil {
			return err
		}
	}
	mode, err := render.ParseWindowMode(*defaultWindow)
	if err != nil {
		return err
	}

	timedLog := volview.NewTimeLog()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	vol, err := nifti.Decode(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return err
	}
	timedLog.Debugf("Decoded %s volume %s (%s)", vol.Datatype(), vol.Shape(), humanize.IBytes(uint64(vol.NumBytes())))

	r := render.Renderer{DefaultWindow: mode, Resample: render.AreaResample}
	img, err := r.Render(vol, axis, index, center, width, maxDim)
	if err != nil {
		return err
	}
	encoded, err := render.EncodeImage(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[3], encoded.Data, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %dx%d slice %s=%d to %s\n", encoded.Width, encoded.Height, axis, index, args[3])
	return nil
}

// DoSynth writes a gzip-compressed int16 phantom: a bright sphere with a
// darker core over a ramp background.
func DoSynth(args []string) error {
	if len(args) != 1 && len(args) != 4 {
		return fmt.Errorf("synth needs <out.nii.gz> and optionally nx ny nz")
	}
	shape := volview.Shape{64, 64, 32}
	if len(args) == 4 {
		for i := range shape {
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n <= 0 || n > math.MaxInt16 {
				return fmt.Errorf("bad extent %q", args[i+1])
			}
			shape[i] = n
		}
	}
	values := make([]int16, shape.NumVoxels())
	cx, cy, cz := float64(shape[0])/2, float64(shape[1])/2, float64(shape[2])/2
	radius := math.Min(cx, math.Min(cy, cz)) * 0.8
	i := 0
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				d := math.Sqrt((float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy) + (float64(z)-cz)*(float64(z)-cz))
				v := min(-1000+10*y, 1000)
				switch {
				case d < radius/3:
					v = 40
				case d < radius:
					v = 400
				}
				values[i] = int16(v)
				i++
			}
		}
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	if err := nifti.Encode(zw, volume.Header{Shape: shape, Spacing: [3]float64{0.5, 0.5, 1}}, values); err != nil {
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s phantom to %s\n", shape, args[0])
	return nil
}
