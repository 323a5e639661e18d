package camera

import "sort"

// Ledger はインデックスごとの所有者と保留キューを保持する。
// 並行安全ではないので Arbiter のロック下でのみ操作する
type Ledger struct {
	owners  map[CameraIndex]*Grant
	pending []Request
}

// NewLedger は空の台帳を作成する
func NewLedger() *Ledger {
	return &Ledger{
		owners: make(map[CameraIndex]*Grant),
	}
}

// Owner は指定インデックスの所有権レコードを返す
func (l *Ledger) Owner(index CameraIndex) (*Grant, bool) {
	g, ok := l.owners[index]
	return g, ok
}

// IndexOf は要求者が所有する最小のインデックスを返す
func (l *Ledger) IndexOf(id RequesterID) (CameraIndex, bool) {
	for _, index := range l.Indices() {
		if l.owners[index].Owner == id {
			return index, true
		}
	}
	return AnyIndex, false
}

// Indices は所有済みインデックスを昇順で返す
func (l *Ledger) Indices() []CameraIndex {
	indices := make([]CameraIndex, 0, len(l.owners))
	for index := range l.owners {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Assign は所有権を記録する。既に所有者がいれば false
func (l *Ledger) Assign(g *Grant) bool {
	if _, exists := l.owners[g.Index]; exists {
		return false
	}
	l.owners[g.Index] = g
	return true
}

// Remove は指定インデックスの所有権を削除して返す
func (l *Ledger) Remove(index CameraIndex) *Grant {
	g, ok := l.owners[index]
	if !ok {
		return nil
	}
	delete(l.owners, index)
	return g
}

// RemoveOwner は要求者の所有権をすべて削除して返す
func (l *Ledger) RemoveOwner(id RequesterID) []*Grant {
	var removed []*Grant
	for _, index := range l.Indices() {
		if l.owners[index].Owner == id {
			removed = append(removed, l.Remove(index))
		}
	}
	return removed
}

// Clear は全所有権を削除して返す
func (l *Ledger) Clear() []*Grant {
	removed := make([]*Grant, 0, len(l.owners))
	for _, index := range l.Indices() {
		removed = append(removed, l.owners[index])
	}
	l.owners = make(map[CameraIndex]*Grant)
	return removed
}

// Len は所有権レコード数を返す
func (l *Ledger) Len() int {
	return len(l.owners)
}

// Snapshot はインデックス→所有者のコピーを返す
func (l *Ledger) Snapshot() map[CameraIndex]RequesterID {
	snapshot := make(map[CameraIndex]RequesterID, len(l.owners))
	for index, g := range l.owners {
		snapshot[index] = g.Owner
	}
	return snapshot
}

// Grants は所有権レコードのコピーをインデックス順で返す
func (l *Ledger) Grants() []Grant {
	grants := make([]Grant, 0, len(l.owners))
	for _, index := range l.Indices() {
		g := *l.owners[index]
		g.notify = nil
		grants = append(grants, g)
	}
	return grants
}

// Enqueue は要求を保留キュー末尾に追加する。同じ要求者の古い要求は置き換える
func (l *Ledger) Enqueue(req Request) {
	l.Dequeue(req.Requester)
	l.pending = append(l.pending, req)
}

// Dequeue は要求者の保留要求を削除し、削除数を返す
func (l *Ledger) Dequeue(id RequesterID) int {
	kept := l.pending[:0]
	removed := 0
	for _, req := range l.pending {
		if req.Requester == id {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	l.pending = kept
	return removed
}

// SortPending は保留キューを優先度の降順に並べ替える
func (l *Ledger) SortPending() {
	sort.SliceStable(l.pending, func(i, j int) bool {
		return l.pending[i].Priority > l.pending[j].Priority
	})
}

// PopPending は保留キューの先頭を取り出す
func (l *Ledger) PopPending() (Request, bool) {
	if len(l.pending) == 0 {
		return Request{}, false
	}
	req := l.pending[0]
	l.pending = l.pending[1:]
	return req, true
}

// ClearPending は保留キューを空にし、破棄した件数を返す
func (l *Ledger) ClearPending() int {
	n := len(l.pending)
	l.pending = nil
	return n
}

// PendingLen は保留中の要求数を返す
func (l *Ledger) PendingLen() int {
	return len(l.pending)
}

// PendingIDs は保留中の要求者をキュー順で返す
func (l *Ledger) PendingIDs() []RequesterID {
	ids := make([]RequesterID, 0, len(l.pending))
	for _, req := range l.pending {
		ids = append(ids, req.Requester)
	}
	return ids
}
