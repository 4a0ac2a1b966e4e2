package contact

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DefaultVerifyUrl = "https://www.google.com/recaptcha/api/siteverify"

type RecaptchaVerifier struct {
	client    *http.Client
	verifyUrl string
	secret    string
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

func NewRecaptchaVerifier(verifyUrl, secret string, timeout time.Duration) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		client:    &http.Client{Timeout: timeout},
		verifyUrl: verifyUrl,
		secret:    secret,
	}
}

func (v *RecaptchaVerifier) Verify(ctx context.Context, token string) (*Verification, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyUrl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "creating verify request")
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := v.client.Do(request)
	if err != nil {
		return nil, errors.Wrap(err, "calling verify endpoint")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("verify endpoint returned status [%d]", response.StatusCode)
	}

	var body siteVerifyResponse
	err = json.NewDecoder(response.Body).Decode(&body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding verify response")
	}
	return &Verification{Success: body.Success, Score: body.Score}, nil
}
