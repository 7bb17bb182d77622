package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Builders for the server-side query language. The query sources are
// assembled here and executed by sd-server through Client.Query; the
// language itself is opaque to this client.

// defaultLimit caps the rolled-up event lists in the full desktop query.
const defaultLimit = 100

// Class is a category: a path of names plus a matching rule.
// Serialized as a two-element array [names, rule].
type Class struct {
	Names []string
	Rule  map[string]interface{}
}

func (c Class) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Names, c.Rule})
}

// DesktopQueryParams parameterizes the canonical desktop query.
type DesktopQueryParams struct {
	BidWindow      string
	BidAFK         string
	BidBrowsers    []string
	Classes        []Class
	FilterClasses  [][]string
	FilterAFK      bool
	IncludeAudible bool
}

// browserAppnames maps browser keys to the app names each browser is
// known under across platforms.
var browserAppnames = map[string][]string{
	"chrome": {
		// Chrome
		"Google Chrome",
		"Google-chrome",
		"chrome.exe",
		"google-chrome-stable",
		// Chromium
		"Chromium",
		"Chromium-browser",
		"Chromium-browser-chromium",
		"chromium.exe",
		// Pre-releases
		"Google-chrome-beta",
		"Google-chrome-unstable",
		"Brave-browser",
	},
	"firefox": {
		"Firefox",
		"Firefox.exe",
		"firefox",
		"firefox.exe",
		"Firefox Developer Edition",
		"firefoxdeveloperedition",
		"Firefox-esr",
		"Firefox Beta",
		"Nightly",
	},
	"opera":   {"opera.exe", "Opera"},
	"brave":   {"brave.exe"},
	"edge":    {"msedge.exe", "Microsoft Edge"},
	"vivaldi": {"Vivaldi-stable", "Vivaldi-snapshot", "vivaldi.exe"},
}

// EscapeDoubleQuote escapes double quotes for embedding in query strings.
func EscapeDoubleQuote(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// QuerystrToArray splits a semicolon-separated query into statements.
func QuerystrToArray(querystr string) []string {
	var out []string
	for _, line := range strings.Split(querystr, ";") {
		if line != "" {
			out = append(out, line+";")
		}
	}
	return out
}

// splitQueryLines splits a query source into the line array the server
// expects in the query payload.
func splitQueryLines(query string) []string {
	return strings.Split(query, "\n")
}

// PrettyQuery strips blank lines and indentation for display.
func PrettyQuery(query string) string {
	var lines []string
	for _, line := range strings.Split(query, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

func browserInBuckets(browser string, browserBuckets []string) string {
	for _, bucket := range browserBuckets {
		if strings.Contains(bucket, browser) {
			return bucket
		}
	}
	return ""
}

// BrowsersWithBuckets returns (browserName, bucketID) pairs for the
// browsers a bucket could be found for.
func BrowsersWithBuckets(browserBuckets []string) [][2]string {
	var found [][2]string
	// Deterministic over the known browser keys
	for _, browserName := range []string{"chrome", "firefox", "opera", "brave", "edge", "vivaldi"} {
		if bucketID := browserInBuckets(browserName, browserBuckets); bucketID != "" {
			found = append(found, [2]string{browserName, bucketID})
		}
	}
	return found
}

// browserEvents returns query code collecting active browser events
// (where the browser was the active window) from all browser buckets.
func browserEvents(params DesktopQueryParams) string {
	var b strings.Builder
	b.WriteString("browser_events = [];")

	for _, pair := range BrowsersWithBuckets(params.BidBrowsers) {
		browserName, bucketID := pair[0], pair[1]
		appnames, _ := json.Marshal(browserAppnames[browserName])
		b.WriteString(fmt.Sprintf(`
          events_%[1]s = flood(query_bucket("%[2]s"));
          window_%[1]s = filter_keyvals(events, "app", %[3]s);
          events_%[1]s = filter_period_intersect(events_%[1]s, window_%[1]s);
          events_%[1]s = split_url_events(events_%[1]s);
          browser_events = concat(browser_events, events_%[1]s);
          browser_events = sort_by_timestamp(browser_events);
        `, browserName, bucketID, string(appnames)))
	}
	return b.String()
}

// CanonicalEvents returns query code fetching window events, filtering
// them by AFK status and categorizing them.
func CanonicalEvents(params DesktopQueryParams) string {
	classesJSON, _ := json.Marshal(params.Classes)
	catFilterJSON, _ := json.Marshal(params.FilterClasses)

	lines := []string{
		// Fetch window events
		fmt.Sprintf(`events = flood(query_bucket(find_bucket("%s")));`, params.BidWindow),
		// Fetch not-afk events
		fmt.Sprintf(`
            not_afk = flood(query_bucket(find_bucket("%s")));
            not_afk = filter_keyvals(not_afk, "status", ["not-afk"]);
            `, params.BidAFK),
	}

	// browser_events is always defined so the full query can reference it
	lines = append(lines, browserEvents(params))
	if len(params.BidBrowsers) > 0 && params.IncludeAudible {
		// Count audible browser tabs as indications of not-afk
		lines = append(lines, `
            audible_events = filter_keyvals(browser_events, "audible", [true]);
            not_afk = period_union(not_afk, audible_events);
            `)
	}

	if params.FilterAFK {
		lines = append(lines, "events = filter_period_intersect(events, not_afk);")
	}
	if len(params.Classes) > 0 {
		lines = append(lines, fmt.Sprintf("events = categorize(events, %s);", string(classesJSON)))
	}
	if len(params.FilterClasses) > 0 {
		lines = append(lines, fmt.Sprintf("events = filter_keyvals(events, '$category', %s);", string(catFilterJSON)))
	}

	return strings.Join(lines, "\n")
}

// FullDesktopQuery returns the complete desktop activity query: window
// events rolled up by title, app and category, plus browser URL/domain
// rollups and total durations.
func FullDesktopQuery(params DesktopQueryParams) string {
	params.BidWindow = EscapeDoubleQuote(params.BidWindow)
	params.BidAFK = EscapeDoubleQuote(params.BidAFK)
	escaped := make([]string, len(params.BidBrowsers))
	for i, bucket := range params.BidBrowsers {
		escaped[i] = EscapeDoubleQuote(bucket)
	}
	params.BidBrowsers = escaped

	return fmt.Sprintf(`
      %s
      title_events = sort_by_duration(merge_events_by_keys(events, ["app", "title"]));
      app_events   = sort_by_duration(merge_events_by_keys(title_events, ["app"]));
      cat_events   = sort_by_duration(merge_events_by_keys(events, ["$category"]));
      app_events  = limit_events(app_events, %[2]d);
      title_events  = limit_events(title_events, %[2]d);
      duration = sum_durations(events);
      browser_events = split_url_events(browser_events);
      browser_urls = merge_events_by_keys(browser_events, ["url"]);
      browser_urls = sort_by_duration(browser_urls);
      browser_urls = limit_events(browser_urls, %[2]d);
      browser_domains = merge_events_by_keys(browser_events, ["$domain"]);
      browser_domains = sort_by_duration(browser_domains);
      browser_domains = limit_events(browser_domains, %[2]d);
      browser_duration = sum_durations(browser_events);
      RETURN = {
          "events": events,
          "window": {
              "app_events": app_events,
              "title_events": title_events,
              "cat_events": cat_events,
              "active_events": not_afk,
              "duration": duration
          },
          "browser": {
              "domains": browser_domains,
              "urls": browser_urls,
              "duration": browser_duration
          }
      };
      `, CanonicalEvents(params), defaultLimit)
}
