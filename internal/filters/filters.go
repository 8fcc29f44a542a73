// Package filters maps list-view filter state to and from query strings.
// Default values never appear in the encoded form, so the empty query string
// is the canonical unfiltered first page.
package filters

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"meetdash/internal/models"
)

const (
	ParamSearch = "search"
	ParamStatus = "status"
	ParamPage   = "page"

	StatusAll = "all"
)

// ErrInvalid is wrapped by every Decode failure.
var ErrInvalid = errors.New("invalid filter")

// State is the filter state of a list view.
type State struct {
	Search string `json:"search"`
	Status string `json:"status"`
	Page   int    `json:"page"`
}

// Default is the unfiltered first page.
func Default() State {
	return State{Status: StatusAll, Page: 1}
}

// WithSearch returns s searching for q, back on page 1.
func (s State) WithSearch(q string) State {
	s.Search = q
	s.Page = 1
	return s
}

// WithStatus returns s filtered by status, back on page 1.
func (s State) WithStatus(status string) State {
	if status == "" {
		status = StatusAll
	}
	s.Status = status
	s.Page = 1
	return s
}

// WithPage returns s on page p. Filters are kept.
func (s State) WithPage(p int) State {
	if p < 1 {
		p = 1
	}
	s.Page = p
	return s
}

// StatusFilter returns the meeting status to filter on, or "" for all.
func (s State) StatusFilter() models.MeetingStatus {
	if s.Status == "" || s.Status == StatusAll {
		return ""
	}
	return models.MeetingStatus(s.Status)
}

// Encode writes the non-default fields of s.
func Encode(s State) url.Values {
	v := url.Values{}
	if s.Search != "" {
		v.Set(ParamSearch, s.Search)
	}
	if s.Status != "" && s.Status != StatusAll {
		v.Set(ParamStatus, s.Status)
	}
	if s.Page > 1 {
		v.Set(ParamPage, strconv.Itoa(s.Page))
	}
	return v
}

// Decode reads the filter state back; missing fields take their defaults.
func Decode(v url.Values) (State, error) {
	s := Default()
	s.Search = strings.TrimSpace(v.Get(ParamSearch))

	if raw := strings.TrimSpace(v.Get(ParamStatus)); raw != "" && raw != StatusAll {
		status, err := models.ParseMeetingStatus(raw)
		if err != nil {
			return Default(), fmt.Errorf("%w: status %q", ErrInvalid, raw)
		}
		s.Status = string(status)
	}

	if raw := strings.TrimSpace(v.Get(ParamPage)); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Default(), fmt.Errorf("%w: page must be a positive integer", ErrInvalid)
		}
		s.Page = page
	}
	return s, nil
}
