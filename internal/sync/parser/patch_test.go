package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPatchSeriesBasic(t *testing.T) {
	info := ExtractPatchSeries("[PATCH v2 2/3] fix the foo bug")
	require.NotNil(t, info.SeriesID)
	require.NotNil(t, info.Number)
	require.NotNil(t, info.Total)
	require.NotNil(t, info.PatchType)
	assert.Equal(t, 2, *info.Number)
	assert.Equal(t, 3, *info.Total)
	assert.Equal(t, "patch", *info.PatchType)
}

func TestExtractPatchSeriesSharedSeriesID(t *testing.T) {
	a := ExtractPatchSeries("[PATCH v2 1/3] fix the foo bug")
	b := ExtractPatchSeries("[PATCH v2 2/3] fix the foo bug")
	require.NotNil(t, a.SeriesID)
	require.NotNil(t, b.SeriesID)
	assert.Equal(t, *a.SeriesID, *b.SeriesID)
}

func TestExtractPatchSeriesDistinctSubjectsDiffer(t *testing.T) {
	a := ExtractPatchSeries("[PATCH v2 1/3] fix the foo bug")
	b := ExtractPatchSeries("[PATCH v2 1/3] fix the bar bug")
	require.NotNil(t, a.SeriesID)
	require.NotNil(t, b.SeriesID)
	assert.NotEqual(t, *a.SeriesID, *b.SeriesID)
}

func TestExtractPatchSeriesReplyHasNoSeries(t *testing.T) {
	info := ExtractPatchSeries("Re: [PATCH v2 2/3] fix the foo bug")
	assert.Nil(t, info.SeriesID)
	assert.Nil(t, info.Number)
	assert.Nil(t, info.Total)
	assert.Nil(t, info.PatchType)
}

func TestExtractPatchSeriesRFCTag(t *testing.T) {
	info := ExtractPatchSeries("[RFC 1/2] proposal")
	require.NotNil(t, info.PatchType)
	assert.Equal(t, "rfc", *info.PatchType)
}

func TestExtractPatchSeriesNoBracketTag(t *testing.T) {
	info := ExtractPatchSeries("just a regular subject")
	assert.Nil(t, info.SeriesID)
}

func TestExtractPatchSeriesNonPatchBracketTag(t *testing.T) {
	info := ExtractPatchSeries("[ANNOUNCE] new release")
	assert.Nil(t, info.SeriesID)
}

func TestExtractPatchSeriesSingleMessageNoCounter(t *testing.T) {
	info := ExtractPatchSeries("[PATCH] fix the foo bug")
	require.NotNil(t, info.SeriesID)
	assert.Nil(t, info.Number)
	assert.Nil(t, info.Total)
}
