package normalize

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuroshio-lab/species-sync/internal/gbif"
	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/obis"
)

func f64(v float64) *float64 { return &v }

func validOBISRecord() obis.Record {
	return obis.Record{
		ID:               "abc-123",
		ScientificName:   "Chelonia mydas",
		VernacularName:   "green sea turtle",
		DecimalLongitude: f64(140.0),
		DecimalLatitude:  f64(35.0),
		EventDate:        "2024-06-01T10:00:00Z",
		DatasetName:      "Japan Sea Turtle Survey",
		BasisOfRecord:    "HumanObservation",
		Sex:              "F",
	}
}

func TestFromOBIS(t *testing.T) {
	obs, err := FromOBIS(validOBISRecord())
	require.NoError(t, err)

	assert.Equal(t, "OBIS:abc-123", obs.OccurrenceID)
	assert.Equal(t, "Chelonia mydas", obs.SpeciesName)
	require.NotNil(t, obs.CommonName)
	assert.Equal(t, "Green Sea Turtle", *obs.CommonName)
	assert.Equal(t, model.Point{Lng: 140.0, Lat: 35.0}, obs.Location)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), obs.ObservationDatetime)
	require.NotNil(t, obs.BasisOfRecord)
	assert.Equal(t, "Human Observation", *obs.BasisOfRecord)
	assert.Equal(t, model.SexFemale, obs.Sex)
	assert.Equal(t, model.SourceOBIS, obs.Source)
	assert.Equal(t, model.ValidationValidated, obs.Validated)
	assert.NotEmpty(t, obs.ID)
}

func TestFromOBISAbsentDepthStaysNil(t *testing.T) {
	obs, err := FromOBIS(validOBISRecord())
	require.NoError(t, err)
	assert.Nil(t, obs.DepthMin)
	assert.Nil(t, obs.DepthMax)
	assert.Nil(t, obs.Bathymetry)
	assert.Nil(t, obs.Temperature)
	assert.Nil(t, obs.Visibility)
}

func TestFromOBISPointDepthFillsBothBounds(t *testing.T) {
	rec := validOBISRecord()
	rec.Depth = f64(12.5)
	obs, err := FromOBIS(rec)
	require.NoError(t, err)
	require.NotNil(t, obs.DepthMin)
	require.NotNil(t, obs.DepthMax)
	assert.InDelta(t, 12.5, *obs.DepthMin, 0.001)
	assert.InDelta(t, 12.5, *obs.DepthMax, 0.001)
}

func TestFromOBISZeroDepthIsNotAbsent(t *testing.T) {
	rec := validOBISRecord()
	rec.MinimumDepthInMeters = f64(0)
	obs, err := FromOBIS(rec)
	require.NoError(t, err)
	require.NotNil(t, obs.DepthMin)
	assert.Zero(t, *obs.DepthMin)
	require.NotNil(t, obs.DepthMax)
	assert.Zero(t, *obs.DepthMax)
}

func TestFromOBISNativeOccurrenceIDWins(t *testing.T) {
	rec := validOBISRecord()
	rec.OccurrenceID = "urn:catalog:ABC:1"
	obs, err := FromOBIS(rec)
	require.NoError(t, err)
	assert.Equal(t, "urn:catalog:ABC:1", obs.OccurrenceID)
}

func TestFromOBISMalformed(t *testing.T) {
	missing := validOBISRecord()
	missing.DecimalLatitude = nil
	_, err := FromOBIS(missing)
	assert.True(t, eris.Is(err, ErrMalformedRecord))

	badDate := validOBISRecord()
	badDate.EventDate = "sometime in June"
	_, err = FromOBIS(badDate)
	assert.True(t, eris.Is(err, ErrMalformedRecord))

	badCoords := validOBISRecord()
	badCoords.DecimalLatitude = f64(95.0)
	_, err = FromOBIS(badCoords)
	assert.True(t, eris.Is(err, ErrMalformedRecord))

	noID := obis.Record{ScientificName: "Mola mola"}
	_, err = FromOBIS(noID)
	assert.True(t, eris.Is(err, ErrMalformedRecord))

	// A record without a species name cannot be curated, and a placeholder
	// name would let unrelated records cross-provider merge.
	noSpecies := validOBISRecord()
	noSpecies.ScientificName = ""
	_, err = FromOBIS(noSpecies)
	assert.True(t, eris.Is(err, ErrMalformedRecord))
}

func validGBIFRecord() gbif.Record {
	return gbif.Record{
		Key:              987654,
		ScientificName:   "Mola mola",
		DecimalLongitude: f64(-150.0),
		DecimalLatitude:  f64(20.0),
		EventDate:        "2024-05-01",
		DatasetName:      "Pacific Pelagic Survey",
		BasisOfRecord:    "MACHINE_OBSERVATION",
	}
}

func TestFromGBIF(t *testing.T) {
	obs, err := FromGBIF(validGBIFRecord())
	require.NoError(t, err)

	assert.Equal(t, "GBIF:987654", obs.OccurrenceID)
	assert.Equal(t, "Mola mola", obs.SpeciesName)
	assert.Nil(t, obs.CommonName)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), obs.ObservationDatetime)
	require.NotNil(t, obs.BasisOfRecord)
	assert.Equal(t, "Machine Observation", *obs.BasisOfRecord)
	assert.Equal(t, model.SexUnknown, obs.Sex)
	assert.Equal(t, model.SourceGBIF, obs.Source)
}

func TestFromGBIFDepthMapping(t *testing.T) {
	rec := validGBIFRecord()
	rec.Depth = f64(200)
	rec.MinimumDepthInMeters = f64(10)
	obs, err := FromGBIF(rec)
	require.NoError(t, err)

	require.NotNil(t, obs.DepthMin)
	assert.InDelta(t, 10, *obs.DepthMin, 0.001)
	require.NotNil(t, obs.DepthMax)
	assert.InDelta(t, 10, *obs.DepthMax, 0.001)
	require.NotNil(t, obs.Bathymetry)
	assert.InDelta(t, 200, *obs.Bathymetry, 0.001)
}

func TestFromGBIFRequiresSpecies(t *testing.T) {
	rec := validGBIFRecord()
	rec.ScientificName = ""
	_, err := FromGBIF(rec)
	assert.True(t, eris.Is(err, ErrMalformedRecord))
}

func TestParseEventDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T10:00:00Z", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-06-01T10:00:00+09:00", time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)},
		{"2024-06-01 10:00:00", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-06", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-06-01/2024-06-05", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseEventDate(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "%s: got %v", tc.in, got)
	}

	for _, bad := range []string{"", "  ", "last Tuesday", "06/2024x"} {
		_, err := ParseEventDate(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"HumanObservation":  "Human Observation",
		"HUMAN_OBSERVATION": "Human Observation",
		"green sea turtle":  "Green Sea Turtle",
		"MATERIAL-SAMPLE":   "Material Sample",
	}
	for in, want := range cases {
		got := TitleCase(in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}
	assert.Nil(t, TitleCase(""))
	assert.Nil(t, TitleCase("  "))
}

func TestStandardizeSex(t *testing.T) {
	assert.Equal(t, model.SexMale, StandardizeSex("M"))
	assert.Equal(t, model.SexMale, StandardizeSex(" male "))
	assert.Equal(t, model.SexFemale, StandardizeSex("Female"))
	assert.Equal(t, model.SexUnknown, StandardizeSex(""))
	assert.Equal(t, model.SexUnknown, StandardizeSex("hermaphrodite"))
}
