package shell

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/antibyte/webterm/pkg/shared"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape makes user or file derived text safe to place in an output line.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// markupPolicy allows only the markup handlers emit themselves: theme
// coloured spans and preformatted blocks.
var markupPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("pre")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^text-[a-z]+-[0-9]{3}$`)).OnElements("span")
	return p
}()

// Output collects the messages one command produces.
type Output struct {
	messages []shared.Message
}

// Append adds one display line. Text may carry span/pre markup; anything
// else is stripped. isError only changes the styling.
func (o *Output) Append(text string, isError bool) {
	if strings.ContainsRune(text, '<') {
		text = markupPolicy.Sanitize(text)
	}
	o.messages = append(o.messages, shared.Message{
		Type:    shared.MessageTypeText,
		Content: text,
		IsError: isError,
	})
}

// AppendEscaped escapes text before appending it.
func (o *Output) AppendEscaped(text string, isError bool) {
	o.Append(Escape(text), isError)
}

// Error appends escaped text as an error line.
func (o *Output) Error(text string) {
	o.AppendEscaped(text, true)
}

// Emit adds a non-text message such as Clear or Download.
func (o *Output) Emit(msg shared.Message) {
	o.messages = append(o.messages, msg)
}

// Messages returns everything collected so far.
func (o *Output) Messages() []shared.Message {
	return o.messages
}

// scroll closes every batch so the view ends on the newest line.
func (o *Output) scroll() {
	o.Emit(shared.Message{Type: shared.MessageTypeScroll})
}
