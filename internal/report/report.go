// Package report renders statistics for people (plain text) and machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/edgard/chatstat/internal/stats"
)

const notAvailable = "N/A"

// WriteText renders the report in the sectioned plain-text layout: fourteen
// global sections followed by seven sections per sender.
func WriteText(w io.Writer, r *stats.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Chat statistics (range %s, generated %s)\n\n", r.Range, r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("=== GLOBAL STATISTICS ===\n\n")
	if r.Global != nil {
		writeGlobal(&b, r.Global)
	}

	b.WriteString("=== PER-USER STATISTICS ===\n\n")
	for _, s := range r.Senders {
		user, ok := r.Users[s.ID]
		if !ok {
			continue
		}
		writeUser(&b, user)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *stats.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write json report: %w", err)
	}
	return nil
}

func writeGlobal(b *strings.Builder, g *stats.GlobalStats) {
	fmt.Fprintf(b, "1. Total messages: %d\n\n", g.TotalMessages)

	b.WriteString("2. Top 10 words:\n")
	writeTokens(b, g.TopTokens, "   ")
	b.WriteString("\n")

	b.WriteString("3. Top 5 stickers:\n")
	writeStickers(b, g.TopStickers, "   ")
	b.WriteString("\n")

	fmt.Fprintf(b, "4. Most active day: %s\n\n", day(g.MostActiveDay))
	fmt.Fprintf(b, "5. Inactive days: %d\n\n", g.InactiveDays)
	fmt.Fprintf(b, "6. Voice messages and video notes: %d\n\n", g.VoiceCount)
	fmt.Fprintf(b, "7. Most active member (messages): %s\n\n", sender(g.TopSender, "messages"))
	fmt.Fprintf(b, "8. Most active member (voice/video notes): %s\n\n", sender(g.TopVoiceSender, "messages"))
	fmt.Fprintf(b, "9. Most active member (photo/video): %s\n\n", sender(g.TopMediaSender, "messages"))
	fmt.Fprintf(b, "10. Most active member (words): %s\n\n", sender(g.TopWordySender, "words"))
	fmt.Fprintf(b, "11. Most active member (stickers): %s\n\n", sender(g.TopStickerSender, "stickers"))

	b.WriteString("12. Months by activity:\n")
	writeMonths(b, g.MonthlyRanking, "   ")
	b.WriteString("\n")

	b.WriteString("13. Top word per month:\n")
	if len(g.MonthlyTopTokens) == 0 {
		b.WriteString("   " + notAvailable + "\n")
	}
	for _, mt := range g.MonthlyTopTokens {
		fmt.Fprintf(b, "   %s: %s (%d)\n", mt.Month, mt.Token, mt.Count)
	}
	b.WriteString("\n")

	b.WriteString("14. Most active member per month:\n")
	if len(g.MonthlyTopSenders) == 0 {
		b.WriteString("   " + notAvailable + "\n")
	}
	for _, ms := range g.MonthlyTopSenders {
		fmt.Fprintf(b, "   %s: %s\n", ms.Month, sender(ms.Sender, "messages"))
	}
	b.WriteString("\n")
}

func writeUser(b *strings.Builder, u *stats.UserStats) {
	fmt.Fprintf(b, "--- %s (ID: %d) ---\n", u.Sender.DisplayName(), u.Sender.ID)
	fmt.Fprintf(b, "1. Total messages: %d\n", u.TotalMessages)

	b.WriteString("2. Top 10 words:\n")
	writeTokens(b, u.TopTokens, "   ")

	b.WriteString("3. Top 5 stickers:\n")
	writeStickers(b, u.TopStickers, "   ")

	fmt.Fprintf(b, "4. Most active day: %s\n", day(u.MostActiveDay))
	fmt.Fprintf(b, "5. Inactive days: %d\n", u.InactiveDays)
	fmt.Fprintf(b, "6. Voice messages and video notes: %d\n", u.VoiceCount)

	b.WriteString("7. Months by activity:\n")
	writeMonths(b, u.MonthlyRanking, "   ")
	b.WriteString("\n")
}

func writeTokens(b *strings.Builder, tokens []stats.TokenCount, indent string) {
	if len(tokens) == 0 {
		b.WriteString(indent + notAvailable + "\n")
		return
	}
	for i, t := range tokens {
		fmt.Fprintf(b, "%s%d. %s: %d\n", indent, i+1, t.Token, t.Count)
	}
}

func writeStickers(b *strings.Builder, stickers []stats.StickerCount, indent string) {
	if len(stickers) == 0 {
		b.WriteString(indent + notAvailable + "\n")
		return
	}
	for i, s := range stickers {
		set := s.SetName
		if set == "" {
			set = "unknown"
		}
		fmt.Fprintf(b, "%s%d. %s (set: %s)\n", indent, i+1, s.Emoji, set)
		if s.PackLink != "" {
			fmt.Fprintf(b, "%s   Link: %s\n", indent, s.PackLink)
		}
		fmt.Fprintf(b, "%s   Uses: %d\n", indent, s.Count)
	}
}

func writeMonths(b *strings.Builder, months []stats.MonthCount, indent string) {
	if len(months) == 0 {
		b.WriteString(indent + notAvailable + "\n")
		return
	}
	for i, m := range months {
		fmt.Fprintf(b, "%s%d. %s: %d messages\n", indent, i+1, m.Month, m.Count)
	}
}

func day(d *stats.DayCount) string {
	if d == nil {
		return notAvailable
	}
	return fmt.Sprintf("%s (%d messages)", d.Day, d.Count)
}

func sender(s *stats.SenderCount, unit string) string {
	if s == nil {
		return notAvailable
	}
	return fmt.Sprintf("%s (ID: %d, %d %s)", s.Sender.DisplayName(), s.Sender.ID, s.Count, unit)
}

// Chunks splits text into pieces of at most limit UTF-16 code units, the unit
// Telegram measures message length in, preferring line boundaries. Lines
// longer than limit are split mid-line.
func Chunks(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf16Len(line)
		if size+n > limit {
			flush()
		}
		for n > limit {
			head, tail := splitUTF16(line, limit)
			current.WriteString(head)
			flush()
			line = tail
			n = utf16Len(line)
		}
		current.WriteString(line)
		size += n
	}
	flush()
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		}
	}
	return n
}

// splitUTF16 cuts s after the longest prefix of at most limit code units.
// The prefix always holds at least one rune.
func splitUTF16(s string, limit int) (string, string) {
	units := 0
	for i, r := range s {
		l := utf16.RuneLen(r)
		if units+l > limit && i > 0 {
			return s[:i], s[i:]
		}
		units += l
	}
	return s, ""
}
