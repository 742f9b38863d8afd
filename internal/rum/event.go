// Package rum models Real User Monitoring events and serializes them into the
// flat JSON objects stored in batch files.
package rum

// Event wraps one RUM payload with the attribute groups merged into it at
// serialization time. Payload is one of *ResourceEvent, *ActionEvent,
// *ViewEvent or *ErrorEvent (or their values); anything else serializes to
// an object holding only the attributes. A nil map means the group is absent.
type Event struct {
	Payload             any
	GlobalAttributes    map[string]any
	UserExtraAttributes map[string]any
	CustomTimings       map[string]int64
}

type Application struct {
	ID string `json:"id"`
}

type SessionType string

const (
	SessionTypeUser       SessionType = "user"
	SessionTypeSynthetics SessionType = "synthetics"
)

type Session struct {
	ID   string      `json:"id"`
	Type SessionType `json:"type"`
}

// ViewRef identifies the view an event happened in.
type ViewRef struct {
	ID       string `json:"id"`
	Referrer string `json:"referrer,omitempty"`
	URL      string `json:"url"`
}

type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type Count struct {
	Count int64 `json:"count"`
}

type ResourceType string

const (
	ResourceTypeDocument ResourceType = "document"
	ResourceTypeXHR      ResourceType = "xhr"
	ResourceTypeBeacon   ResourceType = "beacon"
	ResourceTypeFetch    ResourceType = "fetch"
	ResourceTypeCSS      ResourceType = "css"
	ResourceTypeJS       ResourceType = "js"
	ResourceTypeImage    ResourceType = "image"
	ResourceTypeFont     ResourceType = "font"
	ResourceTypeMedia    ResourceType = "media"
	ResourceTypeOther    ResourceType = "other"
)

type Resource struct {
	Type       ResourceType `json:"type"`
	Method     string       `json:"method,omitempty"`
	URL        string       `json:"url"`
	StatusCode *int64       `json:"status_code,omitempty"`
	Duration   int64        `json:"duration"` // nanoseconds
	Size       *int64       `json:"size,omitempty"`
}

type ResourceEvent struct {
	Date        int64       `json:"date"`
	Application Application `json:"application"`
	Session     Session     `json:"session"`
	View        ViewRef     `json:"view"`
	Usr         *User       `json:"usr,omitempty"`
	Resource    Resource    `json:"resource"`
}

type ActionType string

const (
	ActionTypeCustom           ActionType = "custom"
	ActionTypeClick            ActionType = "click"
	ActionTypeTap              ActionType = "tap"
	ActionTypeScroll           ActionType = "scroll"
	ActionTypeSwipe            ActionType = "swipe"
	ActionTypeApplicationStart ActionType = "application_start"
	ActionTypeBack             ActionType = "back"
)

type Target struct {
	Name string `json:"name"`
}

type Action struct {
	Type        ActionType `json:"type"`
	ID          string     `json:"id,omitempty"`
	LoadingTime *int64     `json:"loading_time,omitempty"`
	Target      *Target    `json:"target,omitempty"`
	Error       *Count     `json:"error,omitempty"`
	Resource    *Count     `json:"resource,omitempty"`
	LongTask    *Count     `json:"long_task,omitempty"`
}

type ActionEvent struct {
	Date        int64       `json:"date"`
	Application Application `json:"application"`
	Session     Session     `json:"session"`
	View        ViewRef     `json:"view"`
	Usr         *User       `json:"usr,omitempty"`
	Action      Action      `json:"action"`
}

// ViewDetails is the view record of a view event, with its counters.
type ViewDetails struct {
	ID          string `json:"id"`
	Referrer    string `json:"referrer,omitempty"`
	URL         string `json:"url"`
	LoadingTime *int64 `json:"loading_time,omitempty"`
	TimeSpent   int64  `json:"time_spent"`
	Action      Count  `json:"action"`
	Resource    Count  `json:"resource"`
	Error       Count  `json:"error"`
	LongTask    *Count `json:"long_task,omitempty"`
}

type ViewEvent struct {
	Date        int64       `json:"date"`
	Application Application `json:"application"`
	Session     Session     `json:"session"`
	View        ViewDetails `json:"view"`
	Usr         *User       `json:"usr,omitempty"`
}

type ErrorSource string

const (
	ErrorSourceNetwork ErrorSource = "network"
	ErrorSourceSource  ErrorSource = "source"
	ErrorSourceConsole ErrorSource = "console"
	ErrorSourceLogger  ErrorSource = "logger"
	ErrorSourceAgent   ErrorSource = "agent"
	ErrorSourceWebview ErrorSource = "webview"
	ErrorSourceCustom  ErrorSource = "custom"
)

type ErrorResource struct {
	Method     string `json:"method"`
	StatusCode int64  `json:"status_code"`
	URL        string `json:"url"`
}

type Error struct {
	Message  string         `json:"message"`
	Source   ErrorSource    `json:"source"`
	Stack    string         `json:"stack,omitempty"`
	IsCrash  *bool          `json:"is_crash,omitempty"`
	Resource *ErrorResource `json:"resource,omitempty"`
}

type ErrorEvent struct {
	Date        int64       `json:"date"`
	Application Application `json:"application"`
	Session     Session     `json:"session"`
	View        ViewRef     `json:"view"`
	Usr         *User       `json:"usr,omitempty"`
	Error       Error       `json:"error"`
}
