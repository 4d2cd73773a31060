package reactor

import (
	"time"

	"go.uber.org/zap"
)

// onTimer 是定时器蹦床，只由后端在超时 watch 到期时调用。
// 表的修改（Timeout 出表、Interval 重挂）总是先于用户回调完成，
// 回调 panic 或阻塞都不会让表处于不一致状态，也不会丢掉下一次 tick。
func (r *Reactor) onTimer(kind Kind, id int) {
	rec, ok := r.events[kind][id]
	if !ok {
		// 到期通知与删除交错，不是错误
		return
	}
	if kind == Timeout {
		// 后端已消费该 watch，只需清理簿记
		delete(r.events[kind], id)
	} else if err := r.backend.Rearm(rec.watch, fromMicros(rec.interval)); err != nil {
		// 无法重挂意味着 watch 不再存活，表项随之移除
		delete(r.events[kind], id)
		r.log.Warn("reactor: interval rearm failed, dropping timer",
			zap.Int("id", id), zap.Error(err))
	}
	r.invoke(kind, id, func() { rec.fn(id) })
}

func micros(d time.Duration) int64 { return int64(d / time.Microsecond) }

func fromMicros(us int64) time.Duration { return time.Duration(us) * time.Microsecond }
