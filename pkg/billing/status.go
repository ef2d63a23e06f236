package billing

// PaymentStatus is the outcome of a checkout attempt.
type PaymentStatus string

const (
	StatusNotInitiated         PaymentStatus = "not_initiated"
	StatusRequiresAction       PaymentStatus = "requires_action"
	StatusSucceeded            PaymentStatus = "succeeded"
	StatusSubscriptionCanceled PaymentStatus = "subscription_canceled"
)

type statusText struct {
	message string
	tag     string
	title   string
}

var statusTexts = map[PaymentStatus]statusText{
	StatusNotInitiated: {
		message: "Payment not initiated.",
		tag:     "info",
		title:   "Pending",
	},
	StatusRequiresAction: {
		message: "Your bank requires additional authentication to complete the payment.",
		tag:     "warning",
		title:   "Action required",
	},
	StatusSucceeded: {
		message: "Thank You! Your payment was successful.",
		tag:     "success",
		title:   "Success",
	},
	StatusSubscriptionCanceled: {
		message: "Your subscription was canceled. PRO access stays until the end of the paid period.",
		tag:     "info",
		title:   "Subscription canceled",
	},
}

// String implements fmt.Stringer.
func (s PaymentStatus) String() string { return string(s) }

// Message returns the user-facing message for the status.
func (s PaymentStatus) Message() string { return statusTexts[s.normalize()].message }

// Tag returns the CSS tag for the status.
func (s PaymentStatus) Tag() string { return statusTexts[s.normalize()].tag }

// Title returns the short title for the status.
func (s PaymentStatus) Title() string { return statusTexts[s.normalize()].title }

// Context returns the status as a renderable context.
func (s PaymentStatus) Context() StatusContext {
	return StatusContext{Msg: s.Message(), Tag: s.Tag(), Title: s.Title()}
}

// normalize maps the zero value to the initial state.
func (s PaymentStatus) normalize() PaymentStatus {
	if _, ok := statusTexts[s]; !ok {
		return StatusNotInitiated
	}
	return s
}

// StatusContext is the {msg, tag, title} view of a status.
type StatusContext struct {
	Msg   string `json:"msg"`
	Tag   string `json:"tag"`
	Title string `json:"title"`
}

// FailureContext builds the status view of a failed checkout.
func FailureContext(msg string) StatusContext {
	return StatusContext{Msg: msg, Tag: "danger", Title: "Payment failed"}
}
