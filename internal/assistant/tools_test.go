package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"magnus/internal/weather"
)

func call(name, args string) llms.ToolCall {
	return llms.ToolCall{ID: "id-" + name, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

func TestToolboxDefinitionsAreSorted(t *testing.T) {
	t.Parallel()

	box := NewToolbox(Permissions{}, TimeTool(fixedClock), ClipboardTool(&fakeClipboard{}), LocationTool(1, 2))
	defs := box.Definitions()

	require.Len(t, defs, 3)
	names := []string{defs[0].Function.Name, defs[1].Function.Name, defs[2].Function.Name}
	require.Equal(t, []string{"copy_to_clipboard", "get_local_time", "get_user_location"}, names)
	require.Equal(t, "function", defs[0].Type)
	require.NotNil(t, defs[1].Function.Parameters, "parameterless tools still describe an object")
}

func TestToolboxCall(t *testing.T) {
	t.Parallel()

	clipboard := &fakeClipboard{}
	box := NewToolbox(Permissions{Clipboard: true, Location: true},
		ClipboardTool(clipboard), TimeTool(fixedClock), LocationTool(39.0997, -94.578331))
	ctx := context.Background()

	result := box.Call(ctx, call("get_local_time", ""))
	require.Equal(t, ToolResult{Output: "Tuesday, March 5, 2024 12:00 PM UTC", Action: "Checked the local time"}, result)

	result = box.Call(ctx, call("get_user_location", "{}"))
	require.Equal(t, "latitude: 39.0997, longitude: -94.5783", result.Output)

	result = box.Call(ctx, call("copy_to_clipboard", `{"text":"hello"}`))
	require.Equal(t, "Copied text to the clipboard", result.Action)
	require.Equal(t, "hello", clipboard.text)

	result = box.Call(ctx, call("copy_to_clipboard", `{}`))
	require.Equal(t, "Error: text is required", result.Output)
	require.Empty(t, result.Action)

	result = box.Call(ctx, call("copy_to_clipboard", `not json`))
	require.Contains(t, result.Output, "not a JSON object")

	result = box.Call(ctx, call("launch_rockets", `{}`))
	require.Equal(t, `Error: unknown tool "launch_rockets"`, result.Output)

	result = box.Call(ctx, llms.ToolCall{ID: "x"})
	require.Contains(t, result.Output, "no function")
}

func TestToolboxClipboardFailureIsReported(t *testing.T) {
	t.Parallel()

	box := NewToolbox(Permissions{Clipboard: true}, ClipboardTool(&fakeClipboard{err: errors.New("no display")}))
	result := box.Call(context.Background(), call("copy_to_clipboard", `{"text":"x"}`))
	require.Contains(t, result.Output, "no display")
	require.Empty(t, result.Action)
}

func TestToolboxPermissionDenied(t *testing.T) {
	t.Parallel()

	clipboard := &fakeClipboard{}
	box := NewToolbox(Permissions{}, ClipboardTool(clipboard), LocationTool(0, 0))

	result := box.Call(context.Background(), call("copy_to_clipboard", `{"text":"secret"}`))
	require.Equal(t, deniedMessage(PermissionClipboard), result.Output)
	require.Empty(t, clipboard.text)

	require.Equal(t,
		"You MUST tell the user they need to allow access to ALL of the following features in settings: Clipboard, Location",
		deniedMessage(PermissionClipboard, PermissionLocation))
}

func TestLocationToolWithoutCoordinates(t *testing.T) {
	t.Parallel()

	box := NewToolbox(Permissions{Location: true}, LocationTool(0, 0))
	result := box.Call(context.Background(), call("get_user_location", ""))
	require.Equal(t, "Error: no location is configured", result.Output)
}

func TestCoordinatesAndForecastTools(t *testing.T) {
	t.Parallel()

	weatherSource := &fakeWeather{
		place:    weather.Place{Name: "Kansas City", Region: "Missouri", Country: "United States", Latitude: 39.0997, Longitude: -94.5786},
		forecast: weather.Forecast{TemperatureUnit: "°F", WindUnit: "mp/h", Current: weather.Conditions{Temperature: 40, WindSpeed: 5, Description: "overcast"}},
	}
	box := NewToolbox(Permissions{}, CoordinatesTool(weatherSource), ForecastTool(weatherSource))
	ctx := context.Background()

	result := box.Call(ctx, call("get_location_coordinates", `{"location":"Kansas City"}`))
	require.Equal(t, ToolResult{
		Output: "Kansas City, Missouri, United States: latitude: 39.0997, longitude: -94.5786",
		Action: "Looked up Kansas City",
	}, result)
	require.Equal(t, "Kansas City", weatherSource.located)

	result = box.Call(ctx, call("get_forecast", `{"latitude":39.0997,"longitude":"-94.5786"}`))
	require.Equal(t, ToolResult{Output: "Now: overcast, 40°F, wind 5 mp/h.", Action: "Checked the forecast"}, result)
	require.Equal(t, [2]float64{39.0997, -94.5786}, weatherSource.forecastAt)

	result = box.Call(ctx, call("get_forecast", `{"latitude":39.0997}`))
	require.Equal(t, "Error: latitude and longitude are required numbers", result.Output)

	weatherSource.err = weather.ErrPlaceNotFound
	result = box.Call(ctx, call("get_location_coordinates", `{"location":"Atlantis"}`))
	require.Equal(t, "Error: no place matched", result.Output)
	require.Empty(t, result.Action)
}

func TestScreenshotToolNeedsPermission(t *testing.T) {
	t.Parallel()

	grabber := &fakeGrabber{path: "/tmp/magnus/screenshot.png"}
	ctx := context.Background()

	denied := NewToolbox(Permissions{}, ScreenshotTool(grabber)).Call(ctx, call("take_screenshot", ""))
	require.Equal(t, deniedMessage(PermissionScreenshot), denied.Output)
	require.Zero(t, grabber.calls)

	allowed := NewToolbox(Permissions{Screenshot: true}, ScreenshotTool(grabber)).Call(ctx, call("take_screenshot", ""))
	require.Equal(t, ToolResult{Output: "Saved a screenshot to /tmp/magnus/screenshot.png", Action: "Took a screenshot"}, allowed)
	require.Equal(t, 1, grabber.calls)

	grabber.err = errors.New("no display")
	failed := NewToolbox(Permissions{Screenshot: true}, ScreenshotTool(grabber)).Call(ctx, call("take_screenshot", ""))
	require.Equal(t, "Error: screenshot failed: no display", failed.Output)
}

func TestNewModelValidatesProvider(t *testing.T) {
	t.Parallel()

	_, err := NewModel(ModelConfig{Provider: "openai", Model: "gpt-4o-mini"})
	require.ErrorContains(t, err, "no api key")

	_, err = NewModel(ModelConfig{Provider: "anthropic"})
	require.ErrorContains(t, err, "no api key")

	_, err = NewModel(ModelConfig{Provider: "palm"})
	require.ErrorContains(t, err, "unsupported llm provider")

	model, err := NewModel(ModelConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1"})
	require.NoError(t, err)
	require.NotNil(t, model)

	model, err = NewModel(ModelConfig{Provider: "ollama", Model: "llama3", BaseURL: "http://127.0.0.1:11434"})
	require.NoError(t, err)
	require.NotNil(t, model)
}
