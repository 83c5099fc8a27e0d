package apiclient

import (
	"encoding/json"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

// DetailsKey holds the parsed error body in CampaignMasterError.Details.
const DetailsKey = "details"

// StatusOf returns the HTTP-like status of an error returned by the
// client: 408 for timeouts, 401 for authentication pages, the upstream
// status for non-2xx responses and 500 for anything else.
func StatusOf(err error) int {
	return errors.HTTPStatus(err)
}

// IsAuthRequired reports whether the backend answered with an HTML page.
func IsAuthRequired(err error) bool {
	return errors.HasCode(err, errors.ErrCodeAuthRequired)
}

// IsTimeout reports whether the request exceeded its timeout.
func IsTimeout(err error) bool {
	return errors.HasCode(err, errors.ErrCodeRequestTimeout)
}

// Details returns the parsed error body carried by err, if any.
func Details(err error) any {
	cmErr, ok := errors.As(err)
	if !ok {
		return nil
	}
	return cmErr.Details[DetailsKey]
}

// Decode unmarshals the JSON payload of resp into a T.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || resp.Data == nil {
		return out, errors.NewError(errors.ErrCodeInvalidResponse, "response has no JSON payload").
			WithComponent("apiclient")
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return out, errors.Wrap(err, errors.ErrCodeInvalidResponse, "failed to decode response payload").
			WithComponent("apiclient")
	}
	return out, nil
}
