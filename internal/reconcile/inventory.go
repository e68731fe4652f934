package reconcile

import (
	"context"
	"sort"

	"github.com/danmuck/rcm/internal/services"
)

// Row is one service in the merged local/remote view. When both sides hold
// the service, fields come from the local side.
type Row struct {
	Service services.Service
	Local   bool
	Remote  bool
	Changed bool
}

type Inventory struct {
	Local  Document
	Remote Document
	Rows   []Row
}

// Inventory merges the local and server service sets by name.
func (w *Workflow) Inventory(ctx context.Context) (Inventory, error) {
	local, err := w.LoadLocal()
	if err != nil {
		return Inventory{}, err
	}
	remoteDoc, err := w.LoadRemote(ctx)
	if err != nil {
		return Inventory{}, err
	}
	return Inventory{Local: local, Remote: remoteDoc, Rows: mergeRows(local.Set, remoteDoc.Set)}, nil
}

func mergeRows(local, remote services.Set) []Row {
	byName := make(map[string]*Row)
	for _, svc := range local.Services() {
		byName[svc.Name] = &Row{Service: svc, Local: true}
	}
	for _, svc := range remote.Services() {
		row, ok := byName[svc.Name]
		if !ok {
			byName[svc.Name] = &Row{Service: svc, Remote: true}
			continue
		}
		row.Remote = true
		row.Changed = !row.Service.Equal(svc)
	}

	rows := make([]Row, 0, len(byName))
	for _, row := range byName {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Service.Name < rows[j].Service.Name
	})
	return rows
}
