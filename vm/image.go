package vm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Image Format
// ---------------------------------------------------------------------------
//
// An image is the magic number followed by one CBOR document holding the
// whole object table. Handles are table indices, so they are written as is
// and a loaded image has exactly the identities of the saved one. Poll
// sources hold native descriptors and callbacks and are not saved.

// ImageMagic identifies a marl image.
var ImageMagic = [4]byte{'M', 'A', 'R', 'L'}

// ImageVersion is bumped whenever a kernel class layout or the primitive
// table order changes.
const ImageVersion uint32 = 1

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected MARL")
	ErrVersionMismatch = errors.New("image version mismatch")
)

const (
	imageFlagHasRefs = 1 << iota
	imageFlagConstant
	imageFlagFinalized
)

type imageObject struct {
	Class Value   `cbor:"1,keyasint"`
	Flags uint8   `cbor:"2,keyasint,omitempty"`
	Vars  []Value `cbor:"3,keyasint,omitempty"`
	Data  []Value `cbor:"4,keyasint,omitempty"`
	Bytes []byte  `cbor:"5,keyasint,omitempty"`
}

type imageFile struct {
	Version   uint32         `cbor:"1,keyasint"`
	Objects   []*imageObject `cbor:"2,keyasint"`
	Globals   Value          `cbor:"3,keyasint"`
	Symbols   Value          `cbor:"4,keyasint"`
	Processor Value          `cbor:"5,keyasint"`
	Pending   []Value        `cbor:"6,keyasint,omitempty"`
}

var (
	imageEncMode cbor.EncMode
	imageDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
	// The object table is one array and can be far larger than the
	// decoder's default element limit.
	dm, err := cbor.DecOptions{MaxArrayElements: 1<<31 - 1, MaxNestedLevels: 16}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR dec mode: %v", err))
	}
	imageDecMode = dm
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// SaveImage writes the runtime's object table to w. It must be called
// between slices, never from inside a running process.
func (rt *Runtime) SaveImage(w io.Writer) error {
	if len(rt.Scheduler.executing) > 0 {
		return fmt.Errorf("save image: process %v is running", rt.Scheduler.Current())
	}
	if n := rt.Scheduler.SourceCount(); n > 0 {
		log.Warningf("save image: %d poll sources are not saved", n)
	}

	m := rt.Memory
	img := imageFile{
		Version:   ImageVersion,
		Objects:   make([]*imageObject, len(m.objects)),
		Globals:   rt.Globals,
		Symbols:   rt.Symbols,
		Processor: rt.Processor,
		Pending:   m.finalizeQueue,
	}
	for h, o := range m.objects {
		if o == nil {
			continue
		}
		entry := &imageObject{Class: o.Class, Vars: o.Vars}
		if o.HasRefs {
			entry.Flags |= imageFlagHasRefs
			entry.Data = o.Data
		} else {
			entry.Bytes = o.Bytes
		}
		if o.Constant {
			entry.Flags |= imageFlagConstant
		}
		if o.finalized {
			entry.Flags |= imageFlagFinalized
		}
		img.Objects[h] = entry
	}

	body, err := imageEncMode.Marshal(&img)
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	if _, err := w.Write(ImageMagic[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// SaveImageFile writes the image to path.
func (rt *Runtime) SaveImageFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := rt.SaveImage(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadImage rebuilds a runtime from an image written by SaveImage. opts
// supplies everything not stored in the image; the byteslice kept in the
// Processor object wins over opts.Byteslice.
func LoadImage(r io.Reader, opts Options) (*Runtime, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decodeImage(data, opts)
}

// LoadImageFile reads an image from path.
func LoadImageFile(path string, opts Options) (*Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rt, err := decodeImage(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rt, nil
}

func decodeImage(data []byte, opts Options) (rt *Runtime, err error) {
	if len(data) < len(ImageMagic) || !bytes.Equal(data[:len(ImageMagic)], ImageMagic[:]) {
		return nil, ErrInvalidMagic
	}
	var img imageFile
	if err := imageDecMode.Unmarshal(data[len(ImageMagic):], &img); err != nil {
		return nil, &FatalError{Err: ErrImageFormat, Detail: err.Error()}
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, img.Version, ImageVersion)
	}
	if len(img.Objects) < firstFreeHandle {
		return nil, &FatalError{Err: ErrImageFormat, Detail: "object table too short"}
	}

	m, err := rebuildMemory(&img, opts.withDefaults().GCThreshold)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = &FatalError{Err: ErrImageFormat, Detail: fmt.Sprint(r)}
		}
	}()

	opts = opts.withDefaults()
	rt = &Runtime{
		Memory:    m,
		Globals:   img.Globals,
		Symbols:   img.Symbols,
		Processor: img.Processor,
		Output:    opts.Output,
		opts:      opts,
	}
	for _, root := range []Value{rt.Globals, rt.Symbols, rt.Processor} {
		if o := m.Object(root); o == nil || root == Nil || !o.HasRefs {
			return nil, &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("bad root %v", root)}
		}
	}
	m.needsFinalization = rt.classNeedsFinalization
	if err := rt.bindClasses(); err != nil {
		return nil, err
	}
	if len(m.Object(rt.Processor).Vars) < processorInstSize {
		return nil, &FatalError{Err: ErrImageFormat, Detail: "Processor has the wrong shape"}
	}
	rt.opts.Byteslice = m.Object(rt.Processor).Int(ProcessorByteslice)
	if err := rt.checkProcessChains(); err != nil {
		return nil, err
	}
	rt.Scheduler = newScheduler(rt)
	memoryLog.Infof("image loaded: %d objects", m.Live())
	return rt, nil
}

// rebuildMemory installs the saved objects at their saved handles and
// checks that every reference points at a live entry.
func rebuildMemory(img *imageFile, threshold int) (*ObjectMemory, error) {
	n := len(img.Objects)
	if n > maxHandles {
		return nil, &FatalError{Err: ErrImageFormat, Detail: "object table too large"}
	}
	m := NewObjectMemory(n, threshold)
	m.objects = m.objects[:0]
	for h, entry := range img.Objects {
		if entry == nil {
			if h < firstFreeHandle {
				return nil, &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("reserved handle %d missing", h)}
			}
			m.objects = append(m.objects, nil)
			m.free = append(m.free, h)
			continue
		}
		o := &Object{
			Class:     entry.Class,
			HasRefs:   entry.Flags&imageFlagHasRefs != 0,
			Constant:  entry.Flags&imageFlagConstant != 0,
			finalized: entry.Flags&imageFlagFinalized != 0,
			Vars:      entry.Vars,
		}
		if o.HasRefs {
			o.Data = entry.Data
		} else {
			o.Bytes = entry.Bytes
		}
		m.objects = append(m.objects, o)
	}
	// Reuse low handles first, as a fresh table would.
	for i, j := 0, len(m.free)-1; i < j; i, j = i+1, j-1 {
		m.free[i], m.free[j] = m.free[j], m.free[i]
	}
	m.live = n - len(m.free)

	valid := func(v Value) bool {
		if v.IsSmallInt() {
			return true
		}
		h := v.Handle()
		return h < n && m.objects[h] != nil
	}
	for h, o := range m.objects {
		if o == nil {
			continue
		}
		if !valid(o.Class) {
			return nil, &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("object %d has a dangling class", h)}
		}
		for _, v := range o.Vars {
			if !valid(v) {
				return nil, &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("object %d has a dangling reference", h)}
			}
		}
		for _, v := range o.Data {
			if !valid(v) {
				return nil, &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("object %d has a dangling element", h)}
			}
		}
	}
	for _, v := range img.Pending {
		if !valid(v) {
			return nil, &FatalError{Err: ErrImageFormat, Detail: "dangling finalization entry"}
		}
	}
	m.finalizeQueue = img.Pending
	for _, root := range []Value{img.Globals, img.Symbols, img.Processor} {
		if !valid(root) {
			return nil, &FatalError{Err: ErrImageFormat, Detail: "dangling root"}
		}
	}
	return m, nil
}

// checkProcessChains verifies the context chain of every process in the
// loaded table.
func (rt *Runtime) checkProcessChains() error {
	limit := rt.opts.StackLimit + 1
	for h, o := range rt.Memory.objects {
		if o == nil || o.Class != rt.Classes.Process {
			continue
		}
		if err := rt.CheckContextChain(o.Var(ProcessContext), limit); err != nil {
			return &FatalError{Err: ErrImageFormat, Detail: fmt.Sprintf("process %d: %v", h, err)}
		}
	}
	return nil
}
