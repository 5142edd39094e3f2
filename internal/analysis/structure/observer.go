package structure

// Observer 接收检测过程产出的结构化轨迹，用于日志、持久化或通知。
// 回调在 Detect 内部按合并后的顺序串行发生：先全部 pivot，再全部事件。
type Observer interface {
	PivotConfirmed(p Pivot)
	BreakDetected(ev BreakEvent)
}

// NopObserver 丢弃全部通知。
type NopObserver struct{}

func (NopObserver) PivotConfirmed(Pivot) {}

func (NopObserver) BreakDetected(BreakEvent) {}
