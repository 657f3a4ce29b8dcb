package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ppopth/mycelium"
	"github.com/ppopth/mycelium/bundle"
	"github.com/ppopth/mycelium/encode"
	"github.com/ppopth/mycelium/encode/rlnc"
	"github.com/ppopth/mycelium/mesh"

	logging "github.com/ipfs/go-log/v2"
)

const usage = `usage: mycelium <command> [flags]

commands:
  encode    encode a file into a bundle
  decode    rebuild a file from a bundle
  inspect   print the metadata of a bundle
  simulate  distribute a file over virtual devices and rebuild it
`

func main() {
	log.SetPrefix("[mycelium] ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encode":
		err = runEncode(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "simulate":
		err = runSimulate(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

// engineFlags are shared by the commands that encode
type engineFlags struct {
	config      *string
	symbolSize  *uint
	repairRatio *float64
	repairCount *int
	scheme      *string
	workers     *int
	digest      *bool
	compression *string
}

func addEngineFlags(fs *flag.FlagSet) *engineFlags {
	return &engineFlags{
		config:      fs.String("config", "", "Path to a YAML config file"),
		symbolSize:  fs.Uint("symbol-size", 0, "Bytes per symbol (default 1024)"),
		repairRatio: fs.Float64("repair-ratio", -1, "Repair packets per source symbol (default 1.0)"),
		repairCount: fs.Int("repair", -1, "Exact number of repair packets, overrides -repair-ratio"),
		scheme:      fs.String("scheme", "", "Erasure code: rlnc, rs or raptorq (default rlnc)"),
		workers:     fs.Int("workers", 0, "Goroutines computing repair packets (default GOMAXPROCS)"),
		digest:      fs.Bool("digest", false, "Record a BLAKE2b-256 digest of the payload"),
		compression: fs.String("compression", "", "Container compression: none, zstd, lz4 or brotli (default zstd)"),
	}
}

// options merges the config file with the flags; flags win
func (f *engineFlags) options() ([]mycelium.Option, *mycelium.Config, error) {
	cfg := &mycelium.Config{}
	if *f.config != "" {
		loaded, err := mycelium.LoadConfig(*f.config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, err
	}

	if *f.symbolSize != 0 {
		if uint64(*f.symbolSize) > math.MaxUint32 {
			return nil, nil, fmt.Errorf("-symbol-size %d is larger than %d", *f.symbolSize, uint32(math.MaxUint32))
		}
		opts = append(opts, mycelium.WithSymbolSize(uint32(*f.symbolSize)))
	}
	if *f.repairRatio >= 0 {
		opts = append(opts, mycelium.WithRepairRatio(*f.repairRatio))
	}
	if *f.repairCount >= 0 {
		if int64(*f.repairCount) > math.MaxUint32 {
			return nil, nil, fmt.Errorf("-repair %d is larger than %d", *f.repairCount, uint32(math.MaxUint32))
		}
		opts = append(opts, mycelium.WithRepairSymbols(uint32(*f.repairCount)))
	}
	if *f.scheme != "" {
		scheme, err := encode.ParseScheme(*f.scheme)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, mycelium.WithScheme(scheme))
	}
	if *f.workers != 0 {
		opts = append(opts, mycelium.WithWorkers(*f.workers))
	}
	if *f.digest {
		opts = append(opts, mycelium.WithDigest(true))
	}
	if *f.compression != "" {
		comp, err := bundle.ParseCompression(*f.compression)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, mycelium.WithCompression(comp))
	}
	return opts, cfg, nil
}

func addLogLevel(fs *flag.FlagSet) *string {
	return fs.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func setLogLevel(name string) {
	level, err := logging.LevelFromString(name)
	if err != nil {
		log.Printf("Invalid log level %q, using info", name)
		level = logging.LevelInfo
	}
	logging.SetAllLoggers(level)
}

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	var (
		engine   = addEngineFlags(fs)
		in       = fs.String("in", "", "Input file")
		out      = fs.String("out", "", "Output bundle file")
		asJSON   = fs.Bool("json", false, "Write the bundle as JSON instead of a container")
		logLevel = addLogLevel(fs)
	)
	fs.Parse(args)
	setLogLevel(*logLevel)
	if *in == "" || *out == "" {
		return fmt.Errorf("-in and -out are required")
	}

	opts, _, err := engine.options()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	b, err := mycelium.Encode(data, opts...)
	if err != nil {
		return err
	}

	var encoded []byte
	if *asJSON {
		encoded, err = json.Marshal(b)
	} else {
		var buf bytes.Buffer
		err = mycelium.Save(&buf, b, opts...)
		encoded = buf.Bytes()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, encoded, 0o644); err != nil {
		return err
	}
	log.Printf("Encoded %d bytes into %s (%d bytes on disk)", len(data), b, len(encoded))
	return nil
}

// readBundle accepts both the container and the JSON form
func readBundle(path string) (*bundle.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, bundle.Magic[:]) {
		return mycelium.Load(bytes.NewReader(data))
	}
	var b bundle.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// parseIDs parses a comma-separated list of packet ids
func parseIDs(list string) (map[uint32]bool, error) {
	ids := make(map[uint32]bool)
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad packet id %q: %w", field, err)
		}
		ids[uint32(id)] = true
	}
	return ids, nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	var (
		in       = fs.String("in", "", "Input bundle file")
		out      = fs.String("out", "", "Output file")
		drop     = fs.String("drop", "", "Comma-separated packet ids to discard before decoding")
		logLevel = addLogLevel(fs)
	)
	fs.Parse(args)
	setLogLevel(*logLevel)
	if *in == "" || *out == "" {
		return fmt.Errorf("-in and -out are required")
	}

	b, err := readBundle(*in)
	if err != nil {
		return err
	}
	if *drop != "" {
		dropped, err := parseIDs(*drop)
		if err != nil {
			return err
		}
		var kept []encode.Packet
		for _, pkt := range b.Packets {
			if !dropped[pkt.ID] {
				kept = append(kept, pkt)
			}
		}
		log.Printf("Dropped %d of %d packets", len(b.Packets)-len(kept), len(b.Packets))
		b = b.WithPackets(kept)
	}

	data, err := mycelium.Decode(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	log.Printf("Decoded %d bytes to %s", len(data), *out)
	return nil
}

// maxInspectRank bounds the k for which inspect runs a full elimination
const maxInspectRank = 4096

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	var (
		in       = fs.String("in", "", "Input bundle file")
		packets  = fs.Bool("packets", false, "List every packet")
		logLevel = addLogLevel(fs)
	)
	fs.Parse(args)
	setLogLevel(*logLevel)
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	b, err := readBundle(*in)
	if err != nil {
		return err
	}
	p := b.Parameters
	fmt.Printf("scheme:          %s\n", b.Scheme)
	fmt.Printf("transfer length: %d\n", p.TransferLength)
	fmt.Printf("symbol size:     %d\n", p.SymbolSize)
	fmt.Printf("source symbols:  %d\n", p.SourceSymbolCount)
	fmt.Printf("padding:         %d\n", p.PaddingLength)
	fmt.Printf("repair count:    %d\n", b.RepairCount)
	fmt.Printf("packets:         %d\n", len(b.Packets))
	if len(b.Digest) != 0 {
		fmt.Printf("digest:          %x\n", b.Digest)
	}
	if b.Scheme == encode.SchemeRLNC && p.SourceSymbolCount <= maxInspectRank {
		ids := make([]uint32, len(b.Packets))
		for i, pkt := range b.Packets {
			ids[i] = pkt.ID
		}
		rank := rlnc.SpanRank(ids, p.SourceSymbolCount)
		fmt.Printf("rank:            %d/%d (decodable: %t)\n", rank, p.SourceSymbolCount, rank == int(p.SourceSymbolCount))
	}
	if *packets {
		for _, pkt := range b.Packets {
			kind := "repair"
			if pkt.IsSystematic(p) {
				kind = "source"
			}
			fmt.Printf("  %6d  %s\n", pkt.ID, kind)
		}
	}
	return nil
}

func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	var (
		engine   = addEngineFlags(fs)
		in       = fs.String("in", "", "Input file")
		nodes    = fs.String("nodes", "", "Comma-separated device names (default from config, then built-in)")
		offline  = fs.String("offline", "", "Comma-separated devices to take offline before rebuilding")
		out      = fs.String("out", "", "Optional file for the rebuilt payload")
		logLevel = addLogLevel(fs)
	)
	fs.Parse(args)
	setLogLevel(*logLevel)
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	opts, cfg, err := engine.options()
	if err != nil {
		return err
	}
	names := cfg.Nodes
	if *nodes != "" {
		names = splitList(*nodes)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	m, err := mesh.New(names...)
	if err != nil {
		return err
	}
	b, err := mycelium.Encode(data, opts...)
	if err != nil {
		return err
	}
	log.Printf("Encoding complete. Generated %d packets.", len(b.Packets))
	if err := m.Distribute(b); err != nil {
		return err
	}
	for _, name := range splitList(*offline) {
		if err := m.SetOnline(name, false); err != nil {
			return err
		}
	}
	for _, s := range m.Status() {
		log.Printf("  %-12s %-7s %3d packets  %s", s.Name, onlineLabel(s.Online), s.Packets, s.ID)
	}

	rebuilt, err := m.Reconstruct(opts...)
	if err != nil {
		return fmt.Errorf("reconstruction failed: %w", err)
	}
	if !bytes.Equal(rebuilt, data) {
		return fmt.Errorf("reconstruction produced different bytes")
	}
	log.Printf("Reconstruction succeeded: %d bytes", len(rebuilt))
	if *out != "" {
		return os.WriteFile(*out, rebuilt, 0o644)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func onlineLabel(online bool) string {
	if online {
		return "ONLINE"
	}
	return "OFFLINE"
}
