package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	for _, valid := range []string{"OBIS", "GBIF", "BOTH", "user", "other"} {
		src, err := ParseSource(valid)
		require.NoError(t, err)
		assert.Equal(t, Source(valid), src)
	}

	_, err := ParseSource("obis")
	assert.Error(t, err)
	_, err = ParseSource("")
	assert.Error(t, err)
}

func TestSourceProvider(t *testing.T) {
	assert.True(t, SourceOBIS.Provider())
	assert.True(t, SourceGBIF.Provider())
	assert.True(t, SourceBoth.Provider())
	assert.False(t, SourceUser.Provider())
	assert.False(t, SourceOther.Provider())
}

func TestNaturalKeyPrefersOccurrenceID(t *testing.T) {
	o := CuratedObservation{
		OccurrenceID: "urn:catalog:ABC:1",
		SpeciesName:  "Chelonia mydas",
	}
	assert.Equal(t, "urn:catalog:ABC:1", o.NaturalKey())
}

func TestNaturalKeyFallback(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 42, 17, 0, time.UTC)
	a := CuratedObservation{
		SpeciesName:         "Chelonia Mydas",
		Location:            Point{Lng: 140.00012, Lat: 35.00049},
		ObservationDatetime: at,
	}
	b := CuratedObservation{
		SpeciesName:         "chelonia mydas",
		Location:            Point{Lng: 140.00034, Lat: 35.00021},
		ObservationDatetime: at.Add(10 * time.Minute),
	}
	// Same species, same rounded cell, same hour: identical keys.
	assert.Equal(t, a.NaturalKey(), b.NaturalKey())

	c := b
	c.Location.Lat = 35.1
	assert.NotEqual(t, a.NaturalKey(), c.NaturalKey())
}

func TestNewID(t *testing.T) {
	assert.NotEmpty(t, NewID())
	assert.NotEqual(t, NewID(), NewID())
}
