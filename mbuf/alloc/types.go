package alloc

import (
	"fmt"

	"github.com/joshuapare/mbpool/internal/buf"
)

// Class identifies one of the object pools.
type Class uint8

const (
	// ClassMbuf is the small fixed-size header object class.
	ClassMbuf Class = iota
	// ClassCluster is the large payload buffer class.
	ClassCluster

	// NumClasses is the number of object classes.
	NumClasses = 2
)

func (c Class) String() string {
	switch c {
	case ClassMbuf:
		return "mbuf"
	case ClassCluster:
		return "cluster"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// SubType is the consumer's logical type for an allocated object. The
// allocator keeps live counts per sub-type for observability only.
type SubType uint8

const (
	TypeNotMbuf SubType = 0  // clusters and other non-mbuf storage
	TypeData    SubType = 1  // dynamic data
	TypeHeader  SubType = 2  // packet header
	TypeSoname  SubType = 8  // socket name
	TypeTag     SubType = 13 // volatile metadata
	TypeControl SubType = 14 // extra-data protocol message
	TypeOOBData SubType = 15 // expedited data

	// NumSubTypes bounds the sub-type space.
	NumSubTypes = 16
)

var subTypeNames = [NumSubTypes]string{
	TypeNotMbuf: "notmbuf",
	TypeData:    "data",
	TypeHeader:  "header",
	TypeSoname:  "soname",
	TypeTag:     "tag",
	TypeControl: "control",
	TypeOOBData: "oobdata",
}

func (t SubType) String() string {
	if int(t) < NumSubTypes && subTypeNames[t] != "" {
		return subTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// How selects whether an allocation may block.
type How uint8

const (
	// DontWait fails immediately when no object is available.
	DontWait How = iota
	// TryWait runs drain callbacks and waits, bounded by Config.MaxWait.
	TryWait
)

func (h How) String() string {
	if h == TryWait {
		return "trywait"
	}
	return "dontwait"
}

// CPU is an index into the pool's per-CPU containers. It is validated on
// every call; see (*Pool).CPUs and (*Pool).Online.
type CPU int

// Object is a handle to one allocated object. The zero value is the nil object.
type Object struct {
	c   *class
	off int // byte offset inside the class arena
	typ SubType
}

// IsNil reports whether o refers to no object.
func (o Object) IsNil() bool { return o.c == nil }

// Class returns the object's class.
func (o Object) Class() Class { return o.c.id }

// Type returns the sub-type the object was allocated with.
func (o Object) Type() SubType { return o.typ }

// Offset returns the object's byte offset inside its class arena.
func (o Object) Offset() int { return o.off }

// Bytes returns the object's memory. The slice is valid until the object is freed.
func (o Object) Bytes() []byte {
	if o.c == nil {
		return nil
	}
	b, _ := buf.Slice(o.c.mem, o.off, o.c.size)
	return b
}

func (o Object) String() string {
	if o.c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%#x(%s)", o.c.id, o.off, o.typ)
}

// Segment is one link of a chain: an mbuf, optionally carrying a cluster.
type Segment struct {
	M   Object // always set
	Cl  Object // nil for a plain mbuf
	Cap int    // bytes of data this segment can carry
}

// Chain is a sequence of segments allocated together.
type Chain []Segment

// Len returns the total data capacity of the chain.
func (ch Chain) Len() int {
	n := 0
	for _, s := range ch {
		n += s.Cap
	}
	return n
}

// Allocator is the object allocation surface of a Pool.
type Allocator interface {
	// Alloc returns one object of class cls accounted under typ.
	Alloc(cpu CPU, cls Class, typ SubType, how How) (Object, error)

	// Free returns an object. Freeing an object twice, or one this
	// allocator never handed out, panics.
	Free(o Object)
}
