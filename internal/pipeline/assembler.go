package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// Assembler turns the per-chunk results of a job into a transcript and a book.
// Both operations depend only on sequence order, never on completion order.
type Assembler struct {
	now func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// MergeSegments stitches per-window segments into one timeline. Each overlap
// between window i and i+1 is cut at its midpoint: window i keeps segments
// starting before the cut, window i+1 keeps those starting at or after it.
func MergeSegments(windows []models.TimeWindow, results [][]models.Segment) []models.Segment {
	var merged []models.Segment
	for i, segs := range results {
		lo, hi := math.Inf(-1), math.Inf(1)
		if i > 0 && windows[i].Start < windows[i-1].End {
			lo = (windows[i].Start + windows[i-1].End) / 2
		}
		if i+1 < len(windows) && windows[i+1].Start < windows[i].End {
			hi = (windows[i+1].Start + windows[i].End) / 2
		}
		for _, s := range segs {
			if s.Start >= lo && s.Start < hi {
				merged = append(merged, s)
			}
		}
	}
	return merged
}

// MergeTranscript orders the transcription results of job by sequence and
// joins the de-duplicated segments into a single transcript.
func (a *Assembler) MergeTranscript(job *models.Job) (string, []models.Segment, error) {
	idx := job.StageChunks(models.StageTranscription)
	if len(idx) == 0 {
		return "", nil, &models.AssemblyInconsistencyError{Reason: "no transcription chunks planned"}
	}

	windows := make([]models.TimeWindow, len(idx))
	results := make([][]models.Segment, len(idx))
	var missing []int
	for _, i := range idx {
		c := job.Chunks[i]
		if c.Window == nil || c.Seq >= len(idx) {
			return "", nil, &models.AssemblyInconsistencyError{Reason: fmt.Sprintf("malformed transcription chunk %d", c.Seq)}
		}
		r := job.Result(models.StageTranscription, c.Seq)
		if c.Status != models.ChunkDone || r == nil {
			missing = append(missing, c.Seq)
			continue
		}
		windows[c.Seq] = *c.Window
		results[c.Seq] = r.Segments
	}
	if len(missing) > 0 {
		return "", nil, &models.AssemblyInconsistencyError{Reason: fmt.Sprintf("transcription chunks %v not done", missing)}
	}

	segs := MergeSegments(windows, results)
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), segs, nil
}

// Assemble builds version 1 of the job's book. Every chunk of every stage
// must be done. Chapters sharing a title (case-insensitive) are merged into
// the earliest one; for glossary terms the earliest definition wins.
func (a *Assembler) Assemble(job *models.Job) (*models.Book, error) {
	var notDone []string
	for _, c := range job.Chunks {
		if c.Status != models.ChunkDone {
			notDone = append(notDone, c.Key())
		}
	}
	if len(notDone) > 0 {
		return nil, &models.AssemblyInconsistencyError{Reason: fmt.Sprintf("chunks not done: %s", strings.Join(notDone, ", "))}
	}

	ext := job.Result(models.StageExtraction, 0)
	if ext == nil || ext.Extraction == nil {
		return nil, &models.AssemblyInconsistencyError{Reason: "extraction result missing"}
	}

	idx := job.StageChunks(models.StageGeneration)
	if len(idx) == 0 {
		return nil, &models.AssemblyInconsistencyError{Reason: "no generation chunks planned"}
	}
	fragments := make([]*models.Fragment, len(idx))
	var missing []int
	for seq := range fragments {
		r := job.Result(models.StageGeneration, seq)
		if r == nil || r.Fragment == nil {
			missing = append(missing, seq)
			continue
		}
		fragments[seq] = r.Fragment
	}
	if len(missing) > 0 {
		return nil, &models.AssemblyInconsistencyError{Missing: missing}
	}

	meta := ext.Extraction.Metadata
	book := &models.Book{
		ID:      BookID(job.ID, 1),
		JobID:   job.ID,
		Version: 1,
		Title:   meta.Title,
		Author:  meta.Channel,
		Source: models.BookSource{
			VideoID:         job.VideoID,
			URL:             job.SourceURL,
			DurationSeconds: meta.DurationSeconds,
			UploadDate:      meta.UploadDate,
		},
		CreatedAt: a.now().UTC(),
	}
	if book.Title == "" {
		book.Title = job.VideoID
	}

	merge := newFragmentMerger()
	for _, f := range fragments {
		merge.add(f)
	}
	merge.into(book)

	if len(book.Chapters) == 0 {
		return nil, &models.AssemblyInconsistencyError{Reason: "generation produced no chapters"}
	}
	return book, nil
}

// BookID derives a stable id for a job's book version so repeated assembly
// of the same job yields the same record.
func BookID(jobID uuid.UUID, version int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("vidread:book:%s:%d", jobID, version)))
}

type fragmentMerger struct {
	summaries    []string
	chapters     []models.Chapter
	chapterIndex map[string]int
	glossary     []models.GlossaryEntry
	glossarySeen map[string]bool
	themes       []string
	themesSeen   map[string]bool
	readings     []models.Reading
	readingsSeen map[string]bool
	audience     string
	difficulty   string
}

func newFragmentMerger() *fragmentMerger {
	return &fragmentMerger{
		chapterIndex: make(map[string]int),
		glossarySeen: make(map[string]bool),
		themesSeen:   make(map[string]bool),
		readingsSeen: make(map[string]bool),
	}
}

func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (m *fragmentMerger) add(f *models.Fragment) {
	if s := strings.TrimSpace(f.Summary); s != "" {
		m.summaries = append(m.summaries, s)
	}

	for _, ch := range f.Chapters {
		key := foldKey(ch.Title)
		if key == "" {
			continue
		}
		if i, ok := m.chapterIndex[key]; ok {
			existing := &m.chapters[i]
			if body := strings.TrimSpace(ch.Content); body != "" {
				if existing.Content == "" {
					existing.Content = body
				} else {
					existing.Content += "\n\n" + body
				}
			}
			existing.KeyPoints = appendUnique(existing.KeyPoints, ch.KeyPoints)
			existing.Examples = appendUnique(existing.Examples, ch.Examples)
			existing.Quotes = appendUnique(existing.Quotes, ch.Quotes)
			continue
		}
		m.chapterIndex[key] = len(m.chapters)
		m.chapters = append(m.chapters, models.Chapter{
			Title:     strings.TrimSpace(ch.Title),
			Content:   strings.TrimSpace(ch.Content),
			KeyPoints: appendUnique(nil, ch.KeyPoints),
			Examples:  appendUnique(nil, ch.Examples),
			Quotes:    appendUnique(nil, ch.Quotes),
		})
	}

	for _, g := range f.Glossary {
		key := foldKey(g.Term)
		if key == "" || m.glossarySeen[key] {
			continue
		}
		m.glossarySeen[key] = true
		m.glossary = append(m.glossary, models.GlossaryEntry{
			Term:       strings.TrimSpace(g.Term),
			Definition: strings.TrimSpace(g.Definition),
		})
	}

	for _, t := range f.Themes {
		key := foldKey(t)
		if key == "" || m.themesSeen[key] {
			continue
		}
		m.themesSeen[key] = true
		m.themes = append(m.themes, strings.TrimSpace(t))
	}

	for _, r := range f.FurtherReading {
		key := foldKey(r.Title)
		if key == "" || m.readingsSeen[key] {
			continue
		}
		m.readingsSeen[key] = true
		m.readings = append(m.readings, r)
	}

	if m.audience == "" {
		m.audience = strings.TrimSpace(f.TargetAudience)
	}
	if m.difficulty == "" {
		m.difficulty = strings.TrimSpace(f.DifficultyLevel)
	}
}

func (m *fragmentMerger) into(b *models.Book) {
	b.Summary = strings.Join(m.summaries, "\n\n")
	b.Chapters = m.chapters
	b.Glossary = m.glossary
	b.Themes = m.themes
	b.FurtherReading = m.readings
	b.TargetAudience = m.audience
	b.DifficultyLevel = m.difficulty

	if b.Chapters == nil {
		b.Chapters = []models.Chapter{}
	}
	if b.Glossary == nil {
		b.Glossary = []models.GlossaryEntry{}
	}
	if b.Themes == nil {
		b.Themes = []string{}
	}
	if b.FurtherReading == nil {
		b.FurtherReading = []models.Reading{}
	}
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
	}
	return dst
}
