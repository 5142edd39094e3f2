package scan

import (
	"strux/internal/analysis/structure"
	"strux/internal/logger"
)

// logObserver 把引擎确认的 pivot 与结构事件写进日志。
// pivot 噪音大走 Debug，结构事件是扫描的主产出走 Info。
type logObserver struct {
	symbol string
}

func (o logObserver) PivotConfirmed(p structure.Pivot) {
	logger.Debugf("[scan] %s pivot %s/%s idx=%d price=%v", o.symbol, p.Level, p.Kind, p.Index, p.Price)
}

func (o logObserver) BreakDetected(ev structure.BreakEvent) {
	logger.Infof("[scan] %s %s %s %s pivot=%d break=%d price=%v",
		o.symbol, ev.Level, ev.Kind, ev.Direction, ev.PivotIndex, ev.BreakIndex, ev.Price)
}
