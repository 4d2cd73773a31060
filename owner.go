package reactor

import "github.com/petermattis/goid"

// ownerCheck 记录拥有循环的 goroutine；未绑定时不做任何检查。
type ownerCheck struct {
	gid int64
}

func (o *ownerCheck) bind() { o.gid = goid.Get() }

func (o *ownerCheck) check() {
	if o.gid == 0 {
		return
	}
	if goid.Get() != o.gid {
		panic(ErrForeignGoroutine)
	}
}
