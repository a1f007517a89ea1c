package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// ErrBadSnapshot is returned when decoded snapshot data is inconsistent.
var ErrBadSnapshot = errors.New("malformed snapshot")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Arrays and objects are stored once in side tables and referenced by
// index, so shared and cyclic containers survive a round trip.
type wireValue struct {
	Kind bytecode.Kind `cbor:"1,keyasint"`
	Num  float64       `cbor:"2,keyasint"`
	Bool bool          `cbor:"3,keyasint,omitempty"`
	Str  string        `cbor:"4,keyasint,omitempty"`
	Ref  int           `cbor:"5,keyasint,omitempty"` // heap address or table index
}

type wireArray struct {
	Elems []wireValue `cbor:"1,keyasint"`
}

type wireObject struct {
	Keys   []string    `cbor:"1,keyasint"`
	Values []wireValue `cbor:"2,keyasint"`
}

type wireFrame struct {
	Function int                  `cbor:"1,keyasint"`
	IP       int                  `cbor:"2,keyasint"`
	Stack    []wireValue          `cbor:"3,keyasint,omitempty"`
	Locals   map[uint16]wireValue `cbor:"4,keyasint,omitempty"`
}

type wireBlock struct {
	Live  bool        `cbor:"1,keyasint"`
	Cells []wireValue `cbor:"2,keyasint,omitempty"`
}

type wireSnapshot struct {
	Function int                  `cbor:"1,keyasint"`
	IP       int                  `cbor:"2,keyasint"`
	Op       bytecode.Opcode      `cbor:"3,keyasint"`
	Steps    uint64               `cbor:"4,keyasint"`
	Frames   []wireFrame          `cbor:"5,keyasint,omitempty"`
	Globals  map[uint16]wireValue `cbor:"6,keyasint,omitempty"`
	Heap     []wireBlock          `cbor:"7,keyasint,omitempty"`
	FreeList []int                `cbor:"8,keyasint,omitempty"`
	Arrays   []wireArray          `cbor:"9,keyasint,omitempty"`
	Objects  []wireObject         `cbor:"10,keyasint,omitempty"`
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	enc := &snapshotEncoder{
		arrays:  make(map[*bytecode.Array]int),
		objects: make(map[*bytecode.Object]int),
	}
	w := &wireSnapshot{
		Function: s.Function,
		IP:       s.IP,
		Op:       s.Op,
		Steps:    s.Steps,
		Globals:  enc.slots(s.Globals),
		FreeList: s.FreeList,
	}
	for _, fr := range s.Frames {
		w.Frames = append(w.Frames, wireFrame{
			Function: fr.Function,
			IP:       fr.IP,
			Stack:    enc.values(fr.Stack),
			Locals:   enc.slots(fr.Locals),
		})
	}
	for _, block := range s.Heap {
		if block == nil {
			w.Heap = append(w.Heap, wireBlock{})
			continue
		}
		w.Heap = append(w.Heap, wireBlock{Live: true, Cells: enc.values(block)})
	}
	w.Arrays = enc.wireArrays
	w.Objects = enc.wireObjects

	data, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}

	dec := &snapshotDecoder{w: &w}
	dec.arrays = make([]*bytecode.Array, len(w.Arrays))
	for i, a := range w.Arrays {
		dec.arrays[i] = bytecode.NewArray(len(a.Elems))
	}
	dec.objects = make([]*bytecode.Object, len(w.Objects))
	for i := range w.Objects {
		dec.objects[i] = bytecode.NewObject()
	}
	if err := dec.fillContainers(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Function: w.Function,
		IP:       w.IP,
		Op:       w.Op,
		Steps:    w.Steps,
		FreeList: w.FreeList,
	}
	var err error
	if s.Globals, err = dec.slots(w.Globals); err != nil {
		return nil, err
	}
	for _, fr := range w.Frames {
		st := FrameState{Function: fr.Function, IP: fr.IP}
		if st.Stack, err = dec.values(fr.Stack); err != nil {
			return nil, err
		}
		if st.Locals, err = dec.slots(fr.Locals); err != nil {
			return nil, err
		}
		s.Frames = append(s.Frames, st)
	}
	for _, b := range w.Heap {
		if !b.Live {
			s.Heap = append(s.Heap, nil)
			continue
		}
		cells, err := dec.values(b.Cells)
		if err != nil {
			return nil, err
		}
		if cells == nil {
			cells = []bytecode.Value{}
		}
		s.Heap = append(s.Heap, cells)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type snapshotEncoder struct {
	arrays      map[*bytecode.Array]int
	objects     map[*bytecode.Object]int
	wireArrays  []wireArray
	wireObjects []wireObject
}

func (e *snapshotEncoder) value(v bytecode.Value) wireValue {
	w := wireValue{Kind: v.Kind()}
	switch v.Kind() {
	case bytecode.KindNumber:
		w.Num, _ = v.AsNumber()
	case bytecode.KindBoolean:
		w.Bool, _ = v.AsBool()
	case bytecode.KindString:
		w.Str, _ = v.AsString()
	case bytecode.KindHeapRef:
		w.Ref, _ = v.AsHeapRef()
	case bytecode.KindArray:
		a, _ := v.AsArray()
		id, seen := e.arrays[a]
		if !seen {
			// Register before descending so cycles terminate.
			id = len(e.wireArrays)
			e.arrays[a] = id
			e.wireArrays = append(e.wireArrays, wireArray{})
			elems := e.values(a.Elements())
			e.wireArrays[id].Elems = elems
		}
		w.Ref = id
	case bytecode.KindObject:
		o, _ := v.AsObject()
		id, seen := e.objects[o]
		if !seen {
			id = len(e.wireObjects)
			e.objects[o] = id
			e.wireObjects = append(e.wireObjects, wireObject{})
			keys := append([]string(nil), o.Keys()...)
			vals := make([]wireValue, len(keys))
			for i, k := range keys {
				vals[i] = e.value(o.Get(k))
			}
			e.wireObjects[id] = wireObject{Keys: keys, Values: vals}
		}
		w.Ref = id
	}
	return w
}

func (e *snapshotEncoder) values(vs []bytecode.Value) []wireValue {
	if len(vs) == 0 {
		return nil
	}
	out := make([]wireValue, len(vs))
	for i, v := range vs {
		out[i] = e.value(v)
	}
	return out
}

func (e *snapshotEncoder) slots(m map[uint16]bytecode.Value) map[uint16]wireValue {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint16]wireValue, len(m))
	for k, v := range m {
		out[k] = e.value(v)
	}
	return out
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type snapshotDecoder struct {
	w       *wireSnapshot
	arrays  []*bytecode.Array
	objects []*bytecode.Object
}

func (d *snapshotDecoder) fillContainers() error {
	for i, a := range d.w.Arrays {
		for j, e := range a.Elems {
			v, err := d.value(e)
			if err != nil {
				return err
			}
			d.arrays[i].Set(j, v)
		}
	}
	for i, o := range d.w.Objects {
		if len(o.Keys) != len(o.Values) {
			return fmt.Errorf("%w: object %d has %d keys and %d values", ErrBadSnapshot, i, len(o.Keys), len(o.Values))
		}
		for j, k := range o.Keys {
			v, err := d.value(o.Values[j])
			if err != nil {
				return err
			}
			d.objects[i].Set(k, v)
		}
	}
	return nil
}

func (d *snapshotDecoder) value(w wireValue) (bytecode.Value, error) {
	switch w.Kind {
	case bytecode.KindNil:
		return bytecode.Nil, nil
	case bytecode.KindNumber:
		return bytecode.Number(w.Num), nil
	case bytecode.KindBoolean:
		return bytecode.Boolean(w.Bool), nil
	case bytecode.KindString:
		return bytecode.String(w.Str), nil
	case bytecode.KindHeapRef:
		return bytecode.HeapRef(w.Ref), nil
	case bytecode.KindArray:
		if w.Ref < 0 || w.Ref >= len(d.arrays) {
			return bytecode.Nil, fmt.Errorf("%w: array %d", ErrBadSnapshot, w.Ref)
		}
		return bytecode.ArrayValue(d.arrays[w.Ref]), nil
	case bytecode.KindObject:
		if w.Ref < 0 || w.Ref >= len(d.objects) {
			return bytecode.Nil, fmt.Errorf("%w: object %d", ErrBadSnapshot, w.Ref)
		}
		return bytecode.ObjectValue(d.objects[w.Ref]), nil
	}
	return bytecode.Nil, fmt.Errorf("%w: value kind %d", ErrBadSnapshot, w.Kind)
}

func (d *snapshotDecoder) values(ws []wireValue) ([]bytecode.Value, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]bytecode.Value, len(ws))
	for i, w := range ws {
		v, err := d.value(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *snapshotDecoder) slots(ws map[uint16]wireValue) (map[uint16]bytecode.Value, error) {
	out := make(map[uint16]bytecode.Value, len(ws))
	for k, w := range ws {
		v, err := d.value(w)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
