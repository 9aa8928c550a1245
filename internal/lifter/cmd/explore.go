package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"lifter/internal/arch"
	"lifter/internal/cfg"
	"lifter/internal/elfx"
	"lifter/internal/report"
	"lifter/internal/ui/colorize"
)

// session is an opened input ready to be explored.
type session struct {
	input    string
	arch     arch.Arch
	src      cfg.Source
	symbols  report.Symbolizer
	literals report.Literals
	entry    uint64
	image    *elfx.Image
}

func (s *session) Close() error {
	if s.image != nil {
		return s.image.Close()
	}
	return nil
}

// parseAddr accepts 0x-prefixed hex, 0o octal or decimal addresses.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// openELF opens an ELF input. The entry is --entry, else the address of
// --symbol, else the ELF entry point.
func openELF(path string, c Config, entryFlag, symbol string) (*session, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	s := &session{input: path, src: im, symbols: im, literals: im, image: im}

	if c.Arch != "" {
		s.arch, err = arch.Lookup(c.Arch)
	} else {
		s.arch, err = arch.ForMachine(im.Machine())
	}
	if err != nil {
		im.Close()
		return nil, err
	}

	switch {
	case entryFlag != "":
		s.entry, err = parseAddr(entryFlag)
	case symbol != "":
		var ok bool
		if s.entry, ok = im.FindFunctionByName(symbol); !ok {
			err = fmt.Errorf("symbol %q not found in %s", symbol, path)
		}
	default:
		s.entry = im.Entry()
	}
	if err != nil {
		im.Close()
		return nil, err
	}
	return s, nil
}

// openRaw loads a headerless code blob mapped at base.
func openRaw(path string, c Config, base, entry string) (*session, error) {
	if c.Arch == "" {
		return nil, errors.New("raw input needs --arch")
	}
	a, err := arch.Lookup(c.Arch)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw input: %w", err)
	}
	b, err := parseAddr(base)
	if err != nil {
		return nil, err
	}
	e := b
	if entry != "" {
		if e, err = parseAddr(entry); err != nil {
			return nil, err
		}
	}
	return &session{input: path, arch: a, src: cfg.NewMemory(b, data), entry: e}, nil
}

// explore runs the explorer over the session with the configured options.
func explore(s *session, c Config, logger *log.Logger) (*cfg.Graph, cfg.Stats, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, cfg.Stats{}, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	opts = append(opts, cfg.WithLogger(logger))

	logger.Debug("exploring", "input", s.input, "arch", s.arch.Name, "entry", fmt.Sprintf("0x%x", s.entry))
	e := cfg.New(s.src, s.arch.Decoder, s.entry, opts...)
	g, err := e.Run()
	if err != nil {
		return nil, e.Stats(), fmt.Errorf("explore 0x%x: %w", s.entry, err)
	}
	return g, e.Stats(), nil
}

func (s *session) listingOptions() report.ListingOptions {
	return report.ListingOptions{
		Symbols:  s.symbols,
		Literals: s.literals,
		Lexer:    s.arch.Lexer,
		Color:    colorize.Enabled(),
	}
}

func (s *session) reportOptions(stats cfg.Stats, full bool) report.Options {
	return report.Options{
		Input:   s.input,
		Arch:    s.arch.Name,
		Symbols: s.symbols,
		Stats:   stats,
		Full:    full,
	}
}
