package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
)

func sampleLeads() []model.Lead {
	dist := 3.456
	contacted := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	return []model.Lead{
		{
			ID:    "lead-1",
			RunID: "run-1",
			RawLead: model.RawLead{
				Industry:      "plumbing",
				BusinessName:  "Mile High Plumbing",
				Address:       "100 Main St",
				City:          "Denver",
				State:         "CO",
				Zip:           "80202",
				Phone:         "303-555-0100",
				Website:       "https://milehigh.example",
				DecisionMaker: "Pat Doe",
				Notes:         "asked for a callback, \"after 3pm\"",
			},
			DistanceMiles: &dist,
			ContactedDate: &contacted,
			Confidence:    1,
		},
		{
			ID:    "lead-2",
			RunID: "run-1",
			RawLead: model.RawLead{
				Industry:     "hvac",
				BusinessName: "Front Range Air",
				City:         "Boulder",
				State:        "CO",
			},
			Confidence: 0.6,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" xlsx ", FormatXLSX, false},
		{"excel", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_Metadata(t *testing.T) {
	assert.Equal(t, "leads-abc.csv", FormatCSV.Filename("abc"))
	assert.Equal(t, "leads-abc.xlsx", FormatXLSX.Filename("abc"))
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleLeads()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, columns, records[0])
	first := records[1]
	assert.Equal(t, "Mile High Plumbing", first[0])
	assert.Equal(t, "3.46", first[11])
	assert.Equal(t, "1.00", first[12])
	assert.Equal(t, "2026-03-04", first[13])
	assert.Equal(t, `asked for a callback, "after 3pm"`, first[14])

	second := records[2]
	assert.Equal(t, "", second[11])
	assert.Equal(t, "0.60", second[12])
	assert.Equal(t, "", second[13])
}

func TestWriteCSV_EmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(columns, ",")+"\n", buf.String())
}

func TestReadCSV(t *testing.T) {
	in := "business_name,phone,extra,city\nAcme Roofing,555-0101,ignored,Aurora\n Beta Pest , ,x,\n"
	leads, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "Acme Roofing", leads[0].BusinessName)
	assert.Equal(t, "555-0101", leads[0].Phone)
	assert.Equal(t, "Aurora", leads[0].City)
	assert.Equal(t, "Beta Pest ", leads[1].BusinessName)
}

func TestReadCSV_Empty(t *testing.T) {
	leads, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestReadCSV_RoundTrip(t *testing.T) {
	data, err := Render(FormatCSV, sampleLeads())
	require.NoError(t, err)

	raws, err := ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, sampleLeads()[0].RawLead, raws[0])
}

func TestWriteXLSX(t *testing.T) {
	data, err := Render(FormatXLSX, sampleLeads())
	require.NoError(t, err)

	f, err := xlsx.OpenBinary(data)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, sheetName, sheet.Name)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, columns, rowToStrings(sheet.Rows[0]))
	first := rowToStrings(sheet.Rows[1])
	assert.Equal(t, "Mile High Plumbing", first[0])
	assert.Equal(t, "2026-03-04", first[13])

	conf, err := sheet.Rows[2].Cells[12].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.6, conf, 1e-9)
}

func TestReadXLSX_RoundTrip(t *testing.T) {
	data, err := Render(FormatXLSX, sampleLeads())
	require.NoError(t, err)

	raws, err := ReadXLSX(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, sampleLeads()[0].RawLead, raws[0])
	assert.Equal(t, "Front Range Air", raws[1].BusinessName)
}

func TestReadXLSX_Invalid(t *testing.T) {
	_, err := ReadXLSX(strings.NewReader("not a workbook"))
	assert.Error(t, err)
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, Format("pdf"), nil))
}

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, bucket, key, body, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) PresignedGetObject(ctx context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucket, key, expires, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func fixedUploader(st ObjectStore) *Uploader {
	u := NewUploader(st, "exports-bucket", "exports/", 30*time.Minute)
	u.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }
	return u
}

func TestUploader_Key(t *testing.T) {
	u := fixedUploader(nil)
	ts := time.Date(2026, 10, 17, 9, 30, 0, 0, time.FixedZone("MDT", -6*3600))
	assert.Equal(t, "exports/run-1/leads-20261017T153000Z.csv", u.Key("run-1", FormatCSV, ts))

	u.prefix = ""
	assert.Equal(t, "run-1/leads-20261017T153000Z.xlsx", u.Key("run-1", FormatXLSX, ts))
}

func TestUploader_Upload(t *testing.T) {
	st := &mockObjectStore{}
	u := fixedUploader(st)
	ctx := context.Background()
	key := "exports/run-1/leads-20261017T093000Z.csv"
	data := []byte("business_name\nAcme\n")

	st.On("PutObject", ctx, "exports-bucket", key, data, int64(len(data)),
		minio.PutObjectOptions{ContentType: FormatCSV.ContentType()}).
		Return(minio.UploadInfo{Key: key, Size: int64(len(data))}, nil)

	signed, _ := url.Parse("https://s3.example.com/exports-bucket/" + key + "?X-Amz-Signature=abc")
	st.On("PresignedGetObject", ctx, "exports-bucket", key, 30*time.Minute, mock.MatchedBy(func(v url.Values) bool {
		return strings.Contains(v.Get("response-content-disposition"), "leads-run-1.csv")
	})).Return(signed, nil)

	up, err := u.Upload(ctx, "run-1", FormatCSV, data)
	require.NoError(t, err)
	assert.Equal(t, key, up.Key)
	assert.Equal(t, "exports-bucket", up.Bucket)
	assert.Equal(t, int64(len(data)), up.Size)
	assert.Equal(t, signed.String(), up.URL)
	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), up.ExpiresAt)
	st.AssertExpectations(t)
}

func TestUploader_PutError(t *testing.T) {
	st := &mockObjectStore{}
	u := fixedUploader(st)
	st.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("access denied"))

	_, err := u.Upload(context.Background(), "run-1", FormatXLSX, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: put object")
	st.AssertNotCalled(t, "PresignedGetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploader_PresignError(t *testing.T) {
	st := &mockObjectStore{}
	u := fixedUploader(st)
	st.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{Size: 1}, nil)
	st.On("PresignedGetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("no region"))

	_, err := u.Upload(context.Background(), "run-1", FormatCSV, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: presign")
}

func TestNewUploader_DefaultTTL(t *testing.T) {
	u := NewUploader(nil, "b", "", 0)
	assert.Equal(t, time.Hour, u.ttl)
}

func TestNewMinIOUploader(t *testing.T) {
	_, err := NewMinIOUploader(config.ExportConfig{})
	assert.Error(t, err)

	u, err := NewMinIOUploader(config.ExportConfig{
		Endpoint:       "localhost:9000",
		Bucket:         "leads",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		Region:         "us-east-1",
		PresignTTLMins: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, u.ttl)
	assert.Equal(t, "leads", u.bucket)
}
