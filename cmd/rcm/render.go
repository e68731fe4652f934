package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/rcm/internal/caddyfile"
	"github.com/danmuck/rcm/internal/deploy"
	"github.com/danmuck/rcm/internal/plan"
	"github.com/danmuck/rcm/internal/reconcile"
	"github.com/danmuck/rcm/internal/services"
)

func renderWarnings(w io.Writer, source string, ws []caddyfile.Warning) {
	if len(ws) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %d warning(s)\n", source, len(ws))
	for _, warning := range ws {
		fmt.Fprintf(w, "  %s\n", warning)
	}
	fmt.Fprintln(w)
}

func renderDelta(w io.Writer, d services.Delta) {
	if d.Absent() {
		return
	}
	fmt.Fprintf(w, "Changes: %d added, %d removed, %d changed, %d unchanged\n",
		len(d.Added), len(d.Removed), len(d.Changed), len(d.Unchanged))
	for _, svc := range d.Added {
		fmt.Fprintf(w, "  + %s  %s -> :%d  (%s)\n", svc.Name, svc.LocalAddress, svc.RemotePort, strings.Join(svc.Domains, ", "))
	}
	for _, svc := range d.Removed {
		fmt.Fprintf(w, "  - %s  %s -> :%d  (%s)\n", svc.Name, svc.LocalAddress, svc.RemotePort, strings.Join(svc.Domains, ", "))
	}
	for _, c := range d.Changed {
		fmt.Fprintf(w, "  ~ %s\n", c.Name)
		for _, f := range c.Fields {
			fmt.Fprintf(w, "      %s: %s => %s\n", f.Field, f.Old, f.New)
		}
	}
	fmt.Fprintln(w)
}

func renderPlan(w io.Writer, p plan.Plan) {
	for _, note := range p.Notes {
		fmt.Fprintln(w, note)
	}
	for _, warning := range p.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if p.Empty() {
		return
	}
	header := "Plan:"
	if !p.Execute {
		header = "Plan (dry run, nothing will be executed):"
	}
	fmt.Fprintln(w, header)
	for i, a := range p.Actions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, a)
	}
	fmt.Fprintln(w)
}

func renderReport(w io.Writer, r deploy.Report) {
	for _, ep := range r.Endpoints {
		fmt.Fprintf(w, "%s: %s (%d/%d actions, %s)\n",
			ep.Endpoint, ep.Outcome, len(ep.Completed), len(ep.Actions), ep.Duration.Round(time.Millisecond))
		for _, a := range ep.Completed {
			fmt.Fprintf(w, "  ok       %s\n", a)
		}
		if ep.Failed != nil {
			label := "failed"
			if ep.Outcome == deploy.OutcomeUnknown {
				label = "unknown"
			}
			fmt.Fprintf(w, "  %-8s %s: %v\n", label, *ep.Failed, ep.Err)
		}
	}
}

func renderInventory(w io.Writer, inv reconcile.Inventory, plain bool) error {
	if plain {
		for _, row := range inv.Rows {
			fmt.Fprintf(w, "%s %s %d %s %s\n", row.Service.Name, row.Service.LocalAddress,
				row.Service.RemotePort, strings.Join(row.Service.Domains, ","), presence(row))
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tLOCAL ADDRESS\tPORT\tDOMAINS\tLOCAL\tREMOTE")
	for _, row := range inv.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			row.Service.Name, row.Service.LocalAddress, row.Service.RemotePort,
			strings.Join(row.Service.Domains, ", "), mark(row.Local), remoteMark(row))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d local, %d remote\n", countLocal(inv.Rows), countRemote(inv.Rows))
	return nil
}

func renderStatus(w io.Writer, statuses []reconcile.UnitStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tHOST\tUNIT\tKIND\tSTATE")
	for _, s := range statuses {
		state := s.State.State
		if s.Err != nil {
			state = state + " (" + s.Err.Error() + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Endpoint, s.Host, s.State.Unit, s.Kind, state)
	}
	return tw.Flush()
}

func presence(row reconcile.Row) string {
	switch {
	case row.Local && row.Remote && row.Changed:
		return "changed"
	case row.Local && row.Remote:
		return "synced"
	case row.Local:
		return "local-only"
	default:
		return "remote-only"
	}
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "-"
}

func remoteMark(row reconcile.Row) string {
	if row.Remote && row.Changed {
		return "differs"
	}
	return mark(row.Remote)
}

func countLocal(rows []reconcile.Row) int {
	n := 0
	for _, row := range rows {
		if row.Local {
			n++
		}
	}
	return n
}

func countRemote(rows []reconcile.Row) int {
	n := 0
	for _, row := range rows {
		if row.Remote {
			n++
		}
	}
	return n
}

func servicesSummary(set services.Set) string {
	names := set.Names()
	if len(names) == 0 {
		return "no services"
	}
	return strconv.Itoa(len(names)) + " services: " + strings.Join(names, ", ")
}
