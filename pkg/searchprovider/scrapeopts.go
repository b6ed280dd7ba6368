package searchprovider

import "github.com/scoutwatch/scoutd/pkg/models"

// wireScrapeOpts is the JSON shape ScrapeOptions takes over the wire. The
// options are carried verbatim from the scout through the agent loop to
// here — never interpreted or spliced into a prompt.
type wireScrapeOpts struct {
	Cookies   string            `json:"cookies,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	WaitMs    int               `json:"wait_ms,omitempty"`
	Selector  string            `json:"wait_selector,omitempty"`
	TimeoutMS int               `json:"timeout_ms,omitempty"`
}

func toWireScrapeOpts(o *models.ScrapeOptions) *wireScrapeOpts {
	if o == nil {
		return nil
	}
	w := &wireScrapeOpts{
		Cookies:   o.Cookies,
		Headers:   o.Headers,
		TimeoutMS: o.TimeoutMS,
	}
	if o.WaitFor != nil {
		w.WaitMs = o.WaitFor.Millis
		w.Selector = o.WaitFor.Selector
	}
	return w
}
