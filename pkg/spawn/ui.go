// ABOUTME: Rich UI message senders: text, cards, tables, charts, errors.
// ABOUTME: Thin typed wrappers over Client.Send.

package spawn

// CardField is one labeled value on a card.
type CardField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Action is a tappable control attached to a component.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// CardValue is the headline value on a card, optionally colored.
type CardValue struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// Card is a rich display component.
type Card struct {
	Style    string      `json:"style,omitempty"`
	Title    string      `json:"title"`
	Subtitle string      `json:"subtitle,omitempty"`
	Value    *CardValue  `json:"value,omitempty"`
	Icon     string      `json:"icon,omitempty"`
	Fields   []CardField `json:"fields,omitempty"`
	Actions  []Action    `json:"actions,omitempty"`
}

// TableColumn describes one table column.
type TableColumn struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Align string `json:"align,omitempty"`
}

// Table is a tabular display component.
type Table struct {
	Title   string           `json:"title"`
	Columns []TableColumn    `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Actions []Action         `json:"actions"`
}

// ChartSeries is one data series on a chart.
type ChartSeries struct {
	Name   string    `json:"name"`
	Points []float64 `json:"points"`
	Color  string    `json:"color,omitempty"`
}

// Chart is a chart display component.
type Chart struct {
	ChartType string         `json:"chart_type"`
	Title     string         `json:"title"`
	Series    []ChartSeries  `json:"series"`
	XAxis     map[string]any `json:"x_axis,omitempty"`
	YAxis     map[string]any `json:"y_axis,omitempty"`
	Size      string         `json:"size,omitempty"`
}

// ErrorReport is a user-visible error component.
type ErrorReport struct {
	Code        string   `json:"code"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Severity    string   `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Actions     []Action `json:"actions"`
}

// SendText sends a plain or markdown text message. Format is "plain" or
// "markdown"; empty means plain.
func (c *Client) SendText(content, format string) error {
	if format == "" {
		format = "plain"
	}
	return c.Send(NewMessage("text", map[string]string{
		"content": content,
		"format":  format,
	}))
}

// SendCard sends a card component.
func (c *Client) SendCard(card Card) error {
	if card.Style == "" {
		card.Style = "default"
	}
	return c.Send(NewMessage("card", card))
}

// SendTable sends a table component.
func (c *Client) SendTable(table Table) error {
	if table.Actions == nil {
		table.Actions = []Action{}
	}
	return c.Send(NewMessage("table", table))
}

// SendChart sends a chart component.
func (c *Client) SendChart(chart Chart) error {
	if chart.Size == "" {
		chart.Size = "medium"
	}
	return c.Send(NewMessage("chart", chart))
}

// SendError sends a user-visible error. Severity defaults to "error".
func (c *Client) SendError(report ErrorReport) error {
	if report.Severity == "" {
		report.Severity = "error"
	}
	if report.Actions == nil {
		report.Actions = []Action{}
	}
	return c.Send(NewMessage("error", report))
}
