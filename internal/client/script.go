package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/image-queue-server/internal/protocol"
)

// Script is a scripted workload.
//
//	gap: 5ms
//	images:
//	  - name: base
//	    width: 64
//	    height: 48
//	    from: "#1e3a8a"
//	    to: "#f59e0b"
//	requests:
//	  - op: blur
//	    image: base
//	    as: soft
//	  - op: retrieve
//	    image: soft
//	    save: soft.bmp
type Script struct {
	// Gap is the pause between consecutive requests.
	Gap time.Duration `yaml:"gap"`

	Images   []ImageSpec `yaml:"images"`
	Requests []Step      `yaml:"requests"`
}

// ImageSpec describes an image registered before any request is sent. It is
// read from File when set, otherwise generated with GradientHex.
type ImageSpec struct {
	Name   string `yaml:"name"`
	File   string `yaml:"file"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

// Step is one request of a script.
type Step struct {
	Op        string        `yaml:"op"`
	Image     string        `yaml:"image"`
	Overwrite bool          `yaml:"overwrite"`
	Length    time.Duration `yaml:"length"`

	// As names the resulting handle so later steps can refer to it.
	As string `yaml:"as"`

	// Save writes the payload of a retrieve step to this path.
	Save string `yaml:"save"`

	op protocol.Op
}

// LoadScript parses and checks a YAML script.
func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScriptFile reads a script from path.
func LoadScriptFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return LoadScript(f)
}

func (s *Script) validate() error {
	names := make(map[string]bool)
	for i, img := range s.Images {
		if img.Name == "" {
			return fmt.Errorf("image %d: name is required", i)
		}
		if names[img.Name] {
			return fmt.Errorf("image %d: duplicate name %q", i, img.Name)
		}
		if img.File == "" && (img.Width <= 0 || img.Height <= 0) {
			return fmt.Errorf("image %q: needs a file or a positive width and height", img.Name)
		}
		names[img.Name] = true
	}

	for i := range s.Requests {
		st := &s.Requests[i]
		op, err := protocol.ParseOp(st.Op)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		if op == protocol.OpRegister {
			return fmt.Errorf("request %d: register images in the images section", i)
		}
		if !names[st.Image] {
			return fmt.Errorf("request %d: unknown image %q", i, st.Image)
		}
		if st.Save != "" && op != protocol.OpRetrieve {
			return fmt.Errorf("request %d: save is only valid for retrieve", i)
		}
		if st.As != "" {
			if names[st.As] {
				return fmt.Errorf("request %d: name %q already in use", i, st.As)
			}
			names[st.As] = true
		}
		st.op = op
	}
	return nil
}

// Report summarises a script run.
type Report struct {
	Sent      int
	Completed int
	Rejected  int
	Failed    int
}

// Run registers the script's images and then sends its requests, one every
// Gap, without waiting for responses. A step that refers to the result of an
// earlier step waits for that step first. Run returns once every response has
// arrived.
func Run(ctx context.Context, c *Client, s *Script, logger zerolog.Logger) (*Report, error) {
	handles := make(map[string]uint64, len(s.Images))
	for _, spec := range s.Images {
		data, err := spec.load()
		if err != nil {
			return nil, err
		}
		h, err := c.Register(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("failed to register image %q: %w", spec.Name, err)
		}
		handles[spec.Name] = h
		logger.Debug().Str("image", spec.Name).Uint64("handle", h).Msg("image registered")
	}

	named := make(map[string]*Call)
	calls := make([]*Call, 0, len(s.Requests))
	rep := &Report{}
	for i, st := range s.Requests {
		if i > 0 && s.Gap > 0 {
			select {
			case <-time.After(s.Gap):
			case <-ctx.Done():
				return rep, ctx.Err()
			}
		}

		handle, err := resolve(ctx, st.Image, handles, named)
		if err != nil {
			return rep, fmt.Errorf("request %d: %w", i, err)
		}
		req := protocol.Request{Op: st.op, ImageID: handle, Overwrite: st.Overwrite, Length: st.Length}
		call, err := c.Go(req, nil)
		if err != nil {
			return rep, fmt.Errorf("request %d: %w", i, err)
		}
		rep.Sent++
		calls = append(calls, call)
		if st.As != "" {
			named[st.As] = call
		}
	}

	for i, call := range calls {
		err := call.Wait(ctx)
		switch {
		case err == nil:
			rep.Completed++
		case errors.Is(err, ErrRejected):
			rep.Rejected++
		case ctx.Err() != nil:
			return rep, ctx.Err()
		default:
			rep.Failed++
			logger.Warn().Err(err).Uint64("request_id", call.Request.ID).Msg("request failed")
		}

		if path := s.Requests[i].Save; path != "" && err == nil {
			if werr := os.WriteFile(path, call.Payload, 0o644); werr != nil {
				return rep, fmt.Errorf("failed to save %s: %w", path, werr)
			}
		}
	}
	return rep, nil
}

func resolve(ctx context.Context, name string, handles map[string]uint64, named map[string]*Call) (uint64, error) {
	if h, ok := handles[name]; ok {
		return h, nil
	}
	call, ok := named[name]
	if !ok {
		return 0, fmt.Errorf("unknown image %q", name)
	}
	if err := call.Wait(ctx); err != nil {
		return 0, fmt.Errorf("image %q is unavailable: %w", name, err)
	}
	h := call.Response.ImageID
	handles[name] = h
	return h, nil
}

func (s ImageSpec) load() ([]byte, error) {
	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %q: %w", s.Name, err)
		}
		return data, nil
	}
	from, to := s.From, s.To
	if from == "" {
		from = "#000000"
	}
	if to == "" {
		to = "#ffffff"
	}
	img, err := GradientHex(s.Width, s.Height, from, to)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", s.Name, err)
	}
	return EncodeBMP(img)
}
