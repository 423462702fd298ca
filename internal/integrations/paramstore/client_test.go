package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut    *ssm.GetParameterOutput
	getErr    error
	lastGet   *ssm.GetParameterInput
	store     map[string]string
	batchErr  error
	batchSize []int
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastGet = in
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batchSize = append(f.batchSize, len(in.Names))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		v, ok := f.store[n]
		if !ok {
			out.InvalidParameters = append(out.InvalidParameters, n)
			continue
		}
		out.Parameters = append(out.Parameters, types.Parameter{Name: strPtr(n), Value: strPtr(v)})
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/shipping/usps-user-id"), Value: strPtr("USER123"),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /shipping/usps-user-id ")
	require.NoError(t, err)
	require.Equal(t, "USER123", v)
	require.Equal(t, "/shipping/usps-user-id", *api.lastGet.Name)
	require.True(t, *api.lastGet.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestGetParameters_HappyPath(t *testing.T) {
	api := &fakeAPI{store: map[string]string{
		"/shipping/config/assistant_id": "asst_1",
		"/shipping/usps-user-id":        "USER123",
	}}
	client, err := New(api)
	require.NoError(t, err)

	vals, err := client.GetParameters(context.Background(), "/shipping/config/assistant_id", "/shipping/usps-user-id")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"/shipping/config/assistant_id": "asst_1",
		"/shipping/usps-user-id":        "USER123",
	}, vals)
	require.Equal(t, []int{2}, api.batchSize)
}

func TestGetParameters_Batches(t *testing.T) {
	store := map[string]string{}
	names := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		n := fmt.Sprintf("/p/%d", i)
		store[n] = fmt.Sprint(i)
		names = append(names, n)
	}
	api := &fakeAPI{store: store}
	client, err := New(api)
	require.NoError(t, err)

	vals, err := client.GetParameters(context.Background(), names...)
	require.NoError(t, err)
	require.Len(t, vals, 23)
	require.Equal(t, []int{10, 10, 3}, api.batchSize)
}

func TestGetParameters_InvalidName(t *testing.T) {
	api := &fakeAPI{store: map[string]string{"/a": "1"}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameters(context.Background(), "/a", "/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), `"/missing" not found`)
}

func TestGetParameters_Errors(t *testing.T) {
	client, err := New(&fakeAPI{batchErr: errors.New("throttled")})
	require.NoError(t, err)

	_, err = client.GetParameters(context.Background(), "/a")
	require.ErrorContains(t, err, "throttled")

	_, err = client.GetParameters(context.Background(), "/a", " ")
	require.ErrorContains(t, err, "required")

	vals, err := client.GetParameters(context.Background())
	require.NoError(t, err)
	require.Empty(t, vals)
}

func TestGetJSON(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Value: strPtr(`{"client_id":"id","client_secret":"secret"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)

	var creds struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/shipping/ups-credentials", &creds))
	require.Equal(t, "id", creds.ClientID)
	require.Equal(t, "secret", creds.ClientSecret)
}

func TestGetJSON_Malformed(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr("not json")}}}
	client, err := New(api)
	require.NoError(t, err)

	var v map[string]string
	err = client.GetJSON(context.Background(), "/p", &v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode parameter")
}
