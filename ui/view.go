package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

const ellipsis = "…"

func (m model) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("readaloud"))
	b.WriteString(faintStyle.Render("  " + m.volumeLabel()))
	if m.snap.IsConverting {
		b.WriteString("  " + m.spinner.View() + faintStyle.Render("converting"))
	}
	b.WriteString("\n\n")

	if m.snap.RequiresInteraction {
		b.WriteString(noticeStyle.Render("Press space to start audio"))
		b.WriteString("\n\n")
	}

	if len(m.snap.Items) == 0 {
		b.WriteString(faintStyle.Render("The queue is empty. Add something with `readaloud add`."))
		b.WriteString("\n")
	}
	for i, it := range m.snap.Items {
		b.WriteString(m.itemLine(i, it, width))
		b.WriteString("\n")
	}

	if cur, ok := m.snap.Current(); ok {
		b.WriteString("\n")
		b.WriteString(m.nowPlaying(cur, width))
	}

	switch {
	case m.lastErr != nil:
		b.WriteString("\n" + errorStyle.Render(truncate.StringWithTail(errorText(m.lastErr), uint(max(width-2, 1)), ellipsis))) //nolint:gosec
	case m.statusMessage != "":
		b.WriteString("\n" + faintStyle.Render(m.statusMessage))
	}

	b.WriteString("\n\n" + m.help.View(keys))
	return b.String()
}

func (m model) volumeLabel() string {
	if m.snap.Muted {
		return "muted"
	}
	return fmt.Sprintf("vol %d%%", int(m.snap.Volume*100+0.5))
}

func (m model) itemLine(i int, it queue.Item, width int) string {
	cursor := "  "
	if i == m.cursor {
		cursor = selectStyle.Render("> ")
	}
	marker := " "
	if i == m.snap.CurrentIndex {
		marker = "*"
	}

	meta := fmt.Sprintf("%d/%d", it.Ready(), len(it.Segments))
	if size := it.Size(); size > 0 {
		meta += " " + humanize.Bytes(uint64(size)) //nolint:gosec
	}
	badge := StatusBadge(it.Status)

	room := width - len(meta) - 20
	title := truncate.StringWithTail(it.Title(), uint(max(room, 10)), ellipsis) //nolint:gosec
	return fmt.Sprintf("%s%s %s %s %s", cursor, marker, badge, title, faintStyle.Render(meta))
}

func (m model) nowPlaying(it queue.Item, width int) string {
	var b strings.Builder
	total := len(it.Segments)
	fmt.Fprintf(&b, "Segment %d of %d", it.CurrentSegment+1, total)
	if total > 0 {
		b.WriteString("\n" + m.progress.ViewAs(float64(it.CurrentSegment+1)/float64(total)))
	}
	if m.cfg.ShowText && it.CurrentSegment < total {
		seg := it.Segments[it.CurrentSegment]
		text := truncate.StringWithTail(seg.Text, uint(max(width*2, 20)), ellipsis) //nolint:gosec
		b.WriteString("\n" + segmentStyle.Width(max(width-2, 10)).Render(text))
		if seg.Error != "" {
			b.WriteString("\n" + errorStyle.Render(seg.Error))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func errorText(err error) string {
	var te *tts.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
