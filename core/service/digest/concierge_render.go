package digest

import (
	"fmt"
	"sort"
	"strings"
)

// Render produces the plain-text digest body. HTML templating is an external
// concern; this renderer backs the CLI and the digest email fallback.
func Render(d *Digest) string {
	var b strings.Builder

	title := "Family Concierge Digest"
	if d.DryRun {
		title = "[DRY RUN] " + title
	}
	fmt.Fprintf(&b, "%s\n%s to %s\n\n", title, d.From.Format("Jan 2"), d.To.Format("Jan 2, 2006"))

	if d.Quiet {
		b.WriteString("A quiet week. Nothing new needs your attention.\n")
		renderErrors(&b, d)
		return b.String()
	}

	if len(d.Glance) > 0 {
		b.WriteString("This Week at a Glance\n")
		for _, fact := range d.Glance {
			fmt.Fprintf(&b, "  • %s\n", fact)
		}
		b.WriteString("\n")
	}

	renderSection(&b, "New this week", d.Created)
	renderSection(&b, "Waiting for your review", d.Pending)
	renderSection(&b, "Approved, going out soon", d.ApprovedPending)
	renderSection(&b, "Deferred from earlier", d.Deferred)

	if len(d.Forwarded) > 0 {
		b.WriteString("Forwarded\n")
		for _, f := range d.Forwarded {
			fmt.Fprintf(&b, "  • %s → %s\n", f.Reason, strings.Join(f.ForwardedTo, ", "))
		}
		b.WriteString("\n")
	}

	if len(d.Dismissed) > 0 {
		b.WriteString("Dismissed\n")
		for _, dm := range d.Dismissed {
			fmt.Fprintf(&b, "  • %s (%s)\n", dm.OriginalSubject, dm.Reason)
		}
		b.WriteString("\n")
	}

	renderErrors(&b, d)
	return b.String()
}

// renderSection groups rows under their display group, in fixed group order.
func renderSection(b *strings.Builder, heading string, rows []Row) {
	if len(rows) == 0 {
		return
	}

	fmt.Fprintf(b, "%s\n", heading)

	byGroup := make(map[string][]Row)
	for _, row := range rows {
		byGroup[row.Group] = append(byGroup[row.Group], row)
	}

	for _, group := range groupRenderOrder(byGroup) {
		fmt.Fprintf(b, "  %s\n", group)
		for _, row := range byGroup[group] {
			fmt.Fprintf(b, "    • %s", row.Title)
			if row.Fact != "" {
				fmt.Fprintf(b, " | %s", row.Fact)
			}
			if row.NeedsReview {
				b.WriteString(" (please double-check)")
			}
			b.WriteString("\n")
			if row.SenderName != "" || row.SenderEmail != "" {
				fmt.Fprintf(b, "      from %s <%s>\n", row.SenderName, row.SenderEmail)
			}
			if row.DeepLink != "" {
				fmt.Fprintf(b, "      %s\n", row.DeepLink)
			}
		}
	}
	b.WriteString("\n")
}

func renderErrors(b *strings.Builder, d *Digest) {
	if len(d.Errors) == 0 {
		return
	}
	b.WriteString("Needs a look\n")
	for _, e := range d.Errors {
		fmt.Fprintf(b, "  • [%s] %s: %s\n", e.Level, e.Module, e.Action)
	}
}

func groupRenderOrder(byGroup map[string][]Row) []string {
	var groups []string
	for _, g := range GroupOrder {
		if len(byGroup[g]) > 0 {
			groups = append(groups, g)
		}
	}
	// Anything outside the fixed list renders last, alphabetically.
	var extra []string
	for g := range byGroup {
		if !knownGroup(g) {
			extra = append(extra, g)
		}
	}
	sort.Strings(extra)
	return append(groups, extra...)
}

func knownGroup(g string) bool {
	for _, known := range GroupOrder {
		if g == known {
			return true
		}
	}
	return false
}
