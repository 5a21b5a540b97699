package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"magnus/internal/ports"
	"magnus/internal/weather"
)

// Permission names a capability the user must allow before a tool may use it.
type Permission string

const (
	PermissionClipboard  Permission = "Clipboard"
	PermissionLocation   Permission = "Location"
	PermissionMicrophone Permission = "Microphone"
	PermissionScreenshot Permission = "Screenshot"
)

// Permissions holds what the user allowed in settings.
type Permissions struct {
	Clipboard  bool
	Location   bool
	Microphone bool
	Screenshot bool
}

func (p Permissions) allows(perm Permission) bool {
	switch perm {
	case "":
		return true
	case PermissionClipboard:
		return p.Clipboard
	case PermissionLocation:
		return p.Location
	case PermissionMicrophone:
		return p.Microphone
	case PermissionScreenshot:
		return p.Screenshot
	default:
		return false
	}
}

// deniedMessage is handed to the model in place of a tool result so it relays the problem.
func deniedMessage(denied ...Permission) string {
	names := make([]string, len(denied))
	for i, p := range denied {
		names[i] = string(p)
	}
	return "You MUST tell the user they need to allow access to ALL of the following features in settings: " +
		strings.Join(names, ", ")
}

// Tool is an action the model may request.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Requires    []Permission
	Run         func(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is what the model sees and, when Action is set, what the transcript shows.
type ToolResult struct {
	Output string
	Action string
}

// Toolbox holds the tools offered to the model.
type Toolbox struct {
	tools       map[string]Tool
	permissions Permissions
}

func NewToolbox(permissions Permissions, tools ...Tool) *Toolbox {
	box := &Toolbox{tools: make(map[string]Tool, len(tools)), permissions: permissions}
	for _, t := range tools {
		box.tools[t.Name] = t
	}
	return box
}

// Definitions returns the tools in the shape langchaingo sends to providers, sorted by name.
func (b *Toolbox) Definitions() []llms.Tool {
	names := make([]string, 0, len(b.tools))
	for name := range b.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llms.Tool, 0, len(names))
	for _, name := range names {
		t := b.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

// Call runs one tool call. Unknown tools, bad arguments, denied permissions and tool failures
// all become output for the model rather than errors, so the conversation can continue.
func (b *Toolbox) Call(ctx context.Context, call llms.ToolCall) ToolResult {
	if call.FunctionCall == nil {
		return ToolResult{Output: "Error: tool call has no function"}
	}
	t, ok := b.tools[call.FunctionCall.Name]
	if !ok {
		return ToolResult{Output: fmt.Sprintf("Error: unknown tool %q", call.FunctionCall.Name)}
	}

	var denied []Permission
	for _, perm := range t.Requires {
		if !b.permissions.allows(perm) {
			denied = append(denied, perm)
		}
	}
	if len(denied) > 0 {
		return ToolResult{Output: deniedMessage(denied...)}
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.FunctionCall.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return ToolResult{Output: fmt.Sprintf("Error: arguments are not a JSON object: %v", err)}
		}
	}

	result, err := t.Run(ctx, args)
	if err != nil {
		return ToolResult{Output: fmt.Sprintf("Error: %v", err)}
	}
	return result
}

// ClipboardTool copies text the model chooses into the system clipboard.
func ClipboardTool(clipboard ports.Clipboard) Tool {
	return Tool{
		Name:        "copy_to_clipboard",
		Description: "Copy text to the user's clipboard.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "The exact text to copy."},
			},
			"required": []string{"text"},
		},
		Requires: []Permission{PermissionClipboard},
		Run: func(ctx context.Context, args map[string]any) (ToolResult, error) {
			text, _ := args["text"].(string)
			if text == "" {
				return ToolResult{}, errors.New("text is required")
			}
			if err := clipboard.SetText(ctx, text); err != nil {
				return ToolResult{}, fmt.Errorf("clipboard write failed: %w", err)
			}
			return ToolResult{Output: "Copied to the clipboard.", Action: "Copied text to the clipboard"}, nil
		},
	}
}

// TimeTool reports the local date and time.
func TimeTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Name:        "get_local_time",
		Description: "Get the user's current local date and time.",
		Run: func(context.Context, map[string]any) (ToolResult, error) {
			return ToolResult{
				Output: now().Format("Monday, January 2, 2006 3:04 PM MST"),
				Action: "Checked the local time",
			}, nil
		},
	}
}

// LocationTool reports the coordinates configured for the user.
func LocationTool(latitude, longitude float64) Tool {
	return Tool{
		Name:        "get_user_location",
		Description: "Get the user's latitude and longitude.",
		Requires:    []Permission{PermissionLocation},
		Run: func(context.Context, map[string]any) (ToolResult, error) {
			if latitude == 0 && longitude == 0 {
				return ToolResult{}, errors.New("no location is configured")
			}
			return ToolResult{
				Output: fmt.Sprintf("latitude: %.4f, longitude: %.4f", latitude, longitude),
				Action: "Looked up your location",
			}, nil
		},
	}
}

// Geocoder resolves a place name.
type Geocoder interface {
	Locate(ctx context.Context, name string) (weather.Place, error)
}

// Forecaster fetches the weather at a coordinate.
type Forecaster interface {
	Forecast(ctx context.Context, latitude, longitude float64) (weather.Forecast, error)
}

// ScreenGrabber saves a screenshot and returns its path.
type ScreenGrabber interface {
	Capture(ctx context.Context) (string, error)
}

// CoordinatesTool looks up the latitude and longitude of a named place.
func CoordinatesTool(geocoder Geocoder) Tool {
	return Tool{
		Name:        "get_location_coordinates",
		Description: "Get the latitude and longitude of a city or place by name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string", "description": "A place name, such as \"Paris, France\"."},
			},
			"required": []string{"location"},
		},
		Run: func(ctx context.Context, args map[string]any) (ToolResult, error) {
			name, _ := args["location"].(string)
			place, err := geocoder.Locate(ctx, name)
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{
				Output: fmt.Sprintf("%s: latitude: %.4f, longitude: %.4f", place, place.Latitude, place.Longitude),
				Action: "Looked up " + place.Name,
			}, nil
		},
	}
}

// ForecastTool reports current conditions and the coming days for a coordinate.
func ForecastTool(forecaster Forecaster) Tool {
	return Tool{
		Name:        "get_forecast",
		Description: "Get the current weather and a short forecast for a latitude and longitude. Look up the coordinates first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latitude":  map[string]any{"type": "number"},
				"longitude": map[string]any{"type": "number"},
			},
			"required": []string{"latitude", "longitude"},
		},
		Run: func(ctx context.Context, args map[string]any) (ToolResult, error) {
			latitude, okLat := number(args["latitude"])
			longitude, okLon := number(args["longitude"])
			if !okLat || !okLon {
				return ToolResult{}, errors.New("latitude and longitude are required numbers")
			}
			forecast, err := forecaster.Forecast(ctx, latitude, longitude)
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{Output: forecast.Summary(), Action: "Checked the forecast"}, nil
		},
	}
}

// ScreenshotTool saves a picture of the user's screen.
func ScreenshotTool(grabber ScreenGrabber) Tool {
	return Tool{
		Name:        "take_screenshot",
		Description: "Take a screenshot of the user's screen and save it to a file.",
		Requires:    []Permission{PermissionScreenshot},
		Run: func(ctx context.Context, _ map[string]any) (ToolResult, error) {
			path, err := grabber.Capture(ctx)
			if err != nil {
				return ToolResult{}, fmt.Errorf("screenshot failed: %w", err)
			}
			return ToolResult{Output: "Saved a screenshot to " + path, Action: "Took a screenshot"}, nil
		},
	}
}

// number accepts JSON numbers and numeric strings, which some models send.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
