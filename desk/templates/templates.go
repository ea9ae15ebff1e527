package templates

// Embed the page layout and the view templates rendered by desk.Views

import (
	"embed"
)

//go:embed base.html status.html options_list.html option_detail.html
var FS embed.FS
