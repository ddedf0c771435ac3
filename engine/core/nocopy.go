package core

import (
	"fmt"
	"runtime/debug"
)

// NoCopy guards types that must only be used through the pointer returned by
// their constructor. Embed it, call Init in the constructor and Check at the
// top of methods. go vet's copylocks check also flags copies because of the
// Lock/Unlock methods.
type NoCopy struct {
	addr *NoCopy
}

func (n *NoCopy) Init() {
	if n.addr != nil {
		panic("core.NoCopy: Init called on non zero value")
	}
	n.addr = n
}

func (n *NoCopy) Check() {
	if n.addr != n {
		panic(fmt.Sprintf("core.NoCopy: illegal copy by value or use of zero/dead value:\n%s", debug.Stack()))
	}
}

func (n *NoCopy) Alive() bool {
	return n.addr == n
}

func (n *NoCopy) Close() {
	n.addr = nil
}

func (*NoCopy) Lock()   {}
func (*NoCopy) Unlock() {}
