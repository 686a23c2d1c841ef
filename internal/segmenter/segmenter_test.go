package segmenter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/pkg/types"
)

const sampleProtocol = `Protocol ABC-123 preamble text.

1 INTRODUCTION
Background on the study drug.

2 STUDY OBJECTIVES
2.1 Primary Objective
To evaluate efficacy of drug X.
2.2 Secondary Objectives
To evaluate safety.

3 STUDY POPULATION
3.1 Inclusion Criteria
Adults aged 18 to 65.
3.2 Exclusion Criteria
Pregnant women.
`

func TestNew(t *testing.T) {
	s := New()
	assert.NotNil(t, s)
}

func TestSegment_LeafChunks(t *testing.T) {
	result := New().Segment(sampleProtocol)

	require.False(t, result.Fallback)
	require.Len(t, result.Chunks, 5)

	titles := make([]string, len(result.Chunks))
	for i, c := range result.Chunks {
		titles[i] = c.FullTitle
	}
	assert.Equal(t, []string{
		"INTRODUCTION",
		"STUDY OBJECTIVES: Primary Objective",
		"STUDY OBJECTIVES: Secondary Objectives",
		"STUDY POPULATION: Inclusion Criteria",
		"STUDY POPULATION: Exclusion Criteria",
	}, titles)

	inclusion := result.Chunks[3]
	assert.Equal(t, "3.1", inclusion.Path)
	assert.Equal(t, "3", inclusion.ParentPath)
	assert.Equal(t, 2, inclusion.Depth)
	assert.Equal(t, "3.1 Inclusion Criteria\nAdults aged 18 to 65.", inclusion.Content)
}

func TestSegment_LeafTitles(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		titles []string
		paths  []string
	}{
		{
			name:   "elided bodies",
			text:   "1 INTRODUCTION\n...\n2 METHODS\n2.1 Design\n...\n2.2 Endpoints\n...",
			titles: []string{"INTRODUCTION", "METHODS: Design", "METHODS: Endpoints"},
			paths:  []string{"1", "2.1", "2.2"},
		},
		{
			name:   "single top-level section",
			text:   "1 SYNOPSIS\nA phase 2 study.",
			titles: []string{"SYNOPSIS"},
			paths:  []string{"1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New().Segment(tt.text)
			require.False(t, result.Fallback)
			require.Len(t, result.Chunks, len(tt.titles))
			for i, c := range result.Chunks {
				assert.Equal(t, tt.titles[i], c.FullTitle)
				assert.Equal(t, tt.paths[i], c.Path)
			}
		})
	}
}

func TestSegment_ChunkIDsAreSequential(t *testing.T) {
	result := New().Segment(sampleProtocol)
	for i, c := range result.Chunks {
		assert.Equal(t, int64(i+1), c.ID)
	}
}

func TestSegment_ReconstructsLeafSpans(t *testing.T) {
	result := New().Segment(sampleProtocol)

	// Concatenating leaf spans in order covers every leaf header, and each
	// chunk is the trimmed slice of the source it claims.
	for _, c := range result.Chunks {
		assert.Equal(t, strings.TrimSpace(sampleProtocol[c.Start:c.End]), c.Content)
		assert.True(t, strings.HasPrefix(c.Content, c.Path+" "+c.Title))
	}

	leaves := 0
	for i := range result.Headers {
		if isLeaf(result.Headers, i) {
			leaves++
		}
	}
	assert.Equal(t, leaves, result.LeafCount())
}

func TestSegment_ParentContentExcludesChildren(t *testing.T) {
	result := New().Segment(sampleProtocol)
	for _, c := range result.Chunks {
		assert.NotEqual(t, "2", c.Path, "non-leaf header must not produce a chunk")
	}
}

func TestSegment_NoHeaders(t *testing.T) {
	text := "Just some unstructured prose.\nNo numbering here."
	result := New().Segment(text)

	require.True(t, result.Fallback)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, types.FullDocumentTitle, result.Chunks[0].FullTitle)
	assert.Equal(t, text, result.Chunks[0].Content)
	assert.True(t, result.Chunks[0].IsFullDocument())
	assert.Equal(t, 0, result.LeafCount())
}

func TestSegment_DepthOneRequiresUpperCase(t *testing.T) {
	text := "1 Introduction\nnot a header\n2 METHODS\nreal header\n"
	result := New().Segment(text)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "METHODS", result.Chunks[0].FullTitle)
}

func TestSegment_SkippedLevelFallsBackToShallowerAncestor(t *testing.T) {
	text := "4 STUDY DESIGN\n4.2.1 Dose Escalation\nCohorts of three.\n"
	result := New().Segment(text)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "STUDY DESIGN: Dose Escalation", result.Chunks[0].FullTitle)
	assert.Equal(t, "4", result.Chunks[0].ParentPath)
}

func TestSegment_OrphanDeepHeader(t *testing.T) {
	text := "5.3 Stopping Rules\nStop if toxic.\n"
	result := New().Segment(text)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "Stopping Rules", result.Chunks[0].FullTitle)
	assert.Equal(t, "", result.Chunks[0].ParentPath)
}

func TestSegment_ThreeLevels(t *testing.T) {
	text := "6 ASSESSMENTS\n6.1 Safety\n6.1.1 Vital Signs\nBP and HR.\n6.1.2 Laboratory Tests\nCBC.\n6.2 Efficacy\nTumor response.\n"
	result := New().Segment(text)

	require.Len(t, result.Chunks, 3)
	assert.Equal(t, "ASSESSMENTS: Safety: Vital Signs", result.Chunks[0].FullTitle)
	assert.Equal(t, "ASSESSMENTS: Safety: Laboratory Tests", result.Chunks[1].FullTitle)
	assert.Equal(t, "ASSESSMENTS: Efficacy", result.Chunks[2].FullTitle)
	assert.Equal(t, 3, result.Chunks[0].Depth)
}

func TestSegment_CRLFLineEndings(t *testing.T) {
	text := "1 SYNOPSIS\r\nShort summary.\r\n2 SCHEDULE\r\nVisits.\r\n"
	result := New().Segment(text)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "SYNOPSIS", result.Chunks[0].FullTitle)
	assert.Equal(t, "SCHEDULE", result.Chunks[1].FullTitle)
}

func TestParseHeaders_ParentLinks(t *testing.T) {
	headers := ParseHeaders(sampleProtocol)
	require.Len(t, headers, 7)

	assert.Equal(t, -1, headers[0].Parent)
	assert.Equal(t, "2", headers[headers[2].Parent].Path)
	assert.Equal(t, "3", headers[headers[6].Parent].Path)
}

func TestIsUpperTitle(t *testing.T) {
	assert.True(t, isUpperTitle("STUDY OBJECTIVES"))
	assert.True(t, isUpperTitle("SCHEDULE OF ACTIVITIES (SOA)"))
	assert.False(t, isUpperTitle("Study Objectives"))
	assert.False(t, isUpperTitle("123"))
}

func TestSegmentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleProtocol), 0644))

	result, err := New().SegmentFile(path)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 5)

	_, err = New().SegmentFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
