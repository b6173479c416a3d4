package shared

// MessageType identifies a server to browser message. Values match the
// RESPONSE_TYPE table in static/terminal.js.
type MessageType int

const (
	MessageTypeText       MessageType = 0  // one output line
	MessageTypeClear      MessageType = 1  // clear the output pane
	MessageTypeScroll     MessageType = 2  // scroll to the newest line
	MessageTypeTheme      MessageType = 3  // theme colour changed
	MessageTypeSettings   MessageType = 4  // full settings snapshot
	MessageTypeDownload   MessageType = 5  // save-as of FileName/Content
	MessageTypeFilePicker MessageType = 6  // open the file picker
	MessageTypeEditor     MessageType = 7  // open the edit modal
	MessageTypeConfirm    MessageType = 8  // ask a yes/no question
	MessageTypeSession    MessageType = 9  // profile id after connect
	MessageTypeInput      MessageType = 10 // replace the input line with Content
	MessageTypeClose      MessageType = 11 // close a modal
)

// Message is the JSON envelope sent over the websocket.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	IsError bool        `json:"isError,omitempty"`

	// Download
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// Editor, content is already HTML escaped
	EditorData string `json:"editorData,omitempty"`

	// Settings and Theme
	Theme    string `json:"theme,omitempty"`
	Bg       string `json:"bg,omitempty"`
	FontSize string `json:"fontSize,omitempty"`

	// Session
	SessionID string `json:"sessionId,omitempty"`
}

// Request types sent by the browser.
const (
	RequestLine     = "line"     // Content holds the raw input line
	RequestKey      = "key"      // Key is ArrowUp or ArrowDown
	RequestEditor   = "editor"   // Confirm decides save or cancel, EditorData holds the text
	RequestConfirm  = "confirm"  // Confirm answers a pending question
	RequestImport   = "import"   // FileName/Content hold the picked file, Error flags a read failure
	RequestSettings = "settings" // Setting names theme, bg or fontSize

	RequestBulkExport = "bulk-export" // whole filesystem as a JSON download
	RequestBulkImport = "bulk-import" // Content holds a JSON backup
)

// Request is the JSON envelope received from the browser.
type Request struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Key        string `json:"key,omitempty"`
	EditorData string `json:"editorData,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	Confirm    bool   `json:"confirm,omitempty"`
	Error      bool   `json:"error,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Setting    string `json:"setting,omitempty"`
	Value      string `json:"value,omitempty"`
}
