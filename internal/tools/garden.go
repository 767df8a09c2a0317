package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/beanbot/beanbot/internal/fetch"
	"github.com/beanbot/beanbot/internal/knowledge"
	"github.com/beanbot/beanbot/internal/search"
	"github.com/beanbot/beanbot/internal/weather"
)

// GardenDeps are the services the garden tool set operates on. Search,
// Fetch, and Weather may be nil when unconfigured; their tools are then
// not registered so the model never sees capabilities it cannot use.
type GardenDeps struct {
	Library *knowledge.Library
	Members *knowledge.Members
	Search  *search.Manager
	Fetch   *fetch.Fetcher
	Weather *weather.Service
	Logger  *slog.Logger
}

// RegisterGardenTools wires the full garden tool set into the registry.
func RegisterGardenTools(reg *Registry, deps GardenDeps) {
	lib := deps.Library

	reg.Register(&Tool{
		Name: "tool_search_knowledge",
		Description: "Search the knowledge library. With no query, lists every file. " +
			"With a query, searches filenames AND file contents and returns the matching files grouped by match type.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Topic or keyword to search for (e.g. 'garlic'). Empty lists all files.",
			},
		}),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return lib.Search(argString(args, "query"))
		},
	})

	reg.Register(&Tool{
		Name: "tool_read_files",
		Description: "Read one or more knowledge files by name in a single call. " +
			"Returns each file's full content.",
		Parameters: objectSchema(map[string]any{
			"filenames": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Filenames to read (e.g. ['garlic.md', 'tasks.md']).",
			},
		}, "filenames"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			names := argStringSlice(args, "filenames")
			if len(names) == 0 {
				return "", fmt.Errorf("filenames is required")
			}
			contents := lib.ReadFiles(names)
			keys := make([]string, 0, len(contents))
			for k := range contents {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			for i, k := range keys {
				if i > 0 {
					b.WriteString("\n\n")
				}
				fmt.Fprintf(&b, "=== %s ===\n%s", k, contents[k])
			}
			return b.String(), nil
		},
	})

	reg.Register(&Tool{
		Name: "tool_update_journal",
		Description: "Append a timestamped entry to the garden activity log. " +
			"Use this to record what the user did or observed (e.g. 'Planted 3 rows of garlic').",
		Parameters: objectSchema(map[string]any{
			"entry": map[string]any{
				"type":        "string",
				"description": "The activity or observation to log.",
			},
		}, "entry"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			entry := argString(args, "entry")
			if entry == "" {
				return "", fmt.Errorf("entry is required")
			}
			if err := lib.UpdateJournal(entry); err != nil {
				return "", err
			}
			return "Successfully logged to garden_log.md.", nil
		},
	})

	reg.Register(&Tool{
		Name: "tool_amend_knowledge",
		Description: "Append facts to a topic file, creating it if needed. Use the broadest topic name " +
			"('garlic', not 'garlic_growing_tips'). Pass the provenance in 'source' so it lands in the file's Sources section.",
		Parameters: objectSchema(map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"description": "Topic name; becomes the filename (e.g. 'garlic' -> garlic.md).",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The facts or notes to append.",
			},
			"source": map[string]any{
				"type":        "string",
				"description": "Where the information came from: a URL, a PDF filename, 'Discord message', or 'image'.",
			},
		}, "topic", "content"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			topic := argString(args, "topic")
			content := argString(args, "content")
			if topic == "" || content == "" {
				return "", fmt.Errorf("topic and content are required")
			}
			stem, err := lib.AmendTopic(topic, content, argString(args, "source"))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully updated knowledge for '%s'.", stem), nil
		},
	})

	reg.Register(&Tool{
		Name: "tool_add_task",
		Description: "Add a task to the task list. Reports similar existing tasks instead of adding a duplicate; " +
			"pass skip_duplicate_check=true to override. Recurring tasks need a due_date.",
		Parameters: objectSchema(map[string]any{
			"task_description": map[string]any{
				"type":        "string",
				"description": "What needs doing (e.g. 'Fertilize the garlic').",
			},
			"due_date": map[string]any{
				"type":        "string",
				"description": "Optional due date, YYYY-MM-DD.",
			},
			"assigned_to": map[string]any{
				"type":        "string",
				"description": "Optional person the task belongs to.",
			},
			"recurring": map[string]any{
				"type":        "string",
				"description": "Optional recurrence: daily, weekly, monthly, every N days, every N weeks.",
			},
			"skip_duplicate_check": map[string]any{
				"type":        "boolean",
				"description": "Add even when a similar task exists.",
			},
		}, "task_description"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			desc := argString(args, "task_description")
			if desc == "" {
				return "", fmt.Errorf("task_description is required")
			}
			return lib.AddTask(desc, knowledge.TaskOptions{
				DueDate:            argString(args, "due_date"),
				AssignedTo:         argString(args, "assigned_to"),
				Recurring:          argString(args, "recurring"),
				SkipDuplicateCheck: argBool(args, "skip_duplicate_check"),
			})
		},
	})

	reg.Register(&Tool{
		Name:        "tool_complete_task",
		Description: "Mark a task done by matching a snippet of its description. Checks the box and auto-logs to the journal; recurring tasks reschedule themselves.",
		Parameters: objectSchema(map[string]any{
			"task_snippet": map[string]any{
				"type":        "string",
				"description": "A distinctive substring of the task (e.g. 'mulch garden').",
			},
		}, "task_snippet"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			snippet := argString(args, "task_snippet")
			if snippet == "" {
				return "", fmt.Errorf("task_snippet is required")
			}
			return lib.CompleteTask(snippet)
		},
	})

	reg.Register(&Tool{
		Name:        "tool_remove_tasks",
		Description: "Permanently delete all open tasks matching a snippet. Completed tasks are never touched. Use for cancelling tasks, not for completing them.",
		Parameters: objectSchema(map[string]any{
			"snippet": map[string]any{
				"type":        "string",
				"description": "Case-insensitive substring matched against open task lines.",
			},
		}, "snippet"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			snippet := argString(args, "snippet")
			if snippet == "" {
				return "", fmt.Errorf("snippet is required")
			}
			return lib.RemoveTasks(snippet)
		},
	})

	reg.Register(&Tool{
		Name:        "tool_reassign_tasks",
		Description: "Move every open task from one person to another in one call. Use from='unassigned' to assign all untagged tasks.",
		Parameters: objectSchema(map[string]any{
			"from": map[string]any{
				"type":        "string",
				"description": "Current assignee, or 'unassigned'.",
			},
			"to": map[string]any{
				"type":        "string",
				"description": "New assignee.",
			},
		}, "from", "to"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			to := argString(args, "to")
			if to == "" {
				return "", fmt.Errorf("to is required")
			}
			return lib.ReassignTasks(argString(args, "from"), to)
		},
	})

	reg.Register(&Tool{
		Name:        "tool_get_my_tasks",
		Description: "List open tasks for a person: their assigned tasks plus all unassigned ones.",
		Parameters: objectSchema(map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "The person's name as it appears in [User: Name].",
			},
		}, "name"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			name := argString(args, "name")
			if name == "" {
				return "", fmt.Errorf("name is required")
			}
			tasks, err := lib.TasksForUser(name)
			if err != nil {
				return "", err
			}
			if len(tasks) == 0 {
				return fmt.Sprintf("No open tasks for %s.", name), nil
			}
			return strings.Join(tasks, "\n"), nil
		},
	})

	reg.Register(&Tool{
		Name:        "tool_log_harvest",
		Description: "Record a harvest in the harvest table.",
		Parameters: objectSchema(map[string]any{
			"crop": map[string]any{
				"type":        "string",
				"description": "What was harvested (e.g. 'Tomatoes').",
			},
			"amount": map[string]any{
				"type":        "string",
				"description": "Yield (e.g. '5 lbs', '12 items').",
			},
			"location": map[string]any{
				"type":        "string",
				"description": "Where it came from (e.g. 'Bed 2').",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Optional observations.",
			},
		}, "crop", "amount", "location"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			crop := argString(args, "crop")
			amount := argString(args, "amount")
			location := argString(args, "location")
			if crop == "" || amount == "" || location == "" {
				return "", fmt.Errorf("crop, amount, and location are required")
			}
			if err := lib.LogHarvest(crop, amount, location, argString(args, "notes")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully logged harvest: %s of %s from %s.", amount, crop, location), nil
		},
	})

	reg.Register(&Tool{
		Name: "tool_overwrite_file",
		Description: "Replace a file's ENTIRE content. Use for structural rewrites like the planting calendar or layout. " +
			"Never use this to delete tasks; use tool_remove_tasks.",
		Parameters: objectSchema(map[string]any{
			"filename": map[string]any{
				"type":        "string",
				"description": "Target filename (e.g. 'farm_layout.md').",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The full new file content.",
			},
		}, "filename", "content"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			name := argString(args, "filename")
			if name == "" {
				return "", fmt.Errorf("filename is required")
			}
			if err := lib.Overwrite(name, argString(args, "content")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully overwrote %s.", name), nil
		},
	})

	reg.Register(&Tool{
		Name:        "tool_delete_file",
		Description: "Delete a knowledge file. System files (tasks, logs, calendar, almanac, layout) are protected. A backup is taken first.",
		Parameters: objectSchema(map[string]any{
			"filename": map[string]any{
				"type":        "string",
				"description": "The file to delete.",
			},
		}, "filename"),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			name := argString(args, "filename")
			if name == "" {
				return "", fmt.Errorf("filename is required")
			}
			if err := lib.Delete(name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Deleted '%s'.", name), nil
		},
	})

	reg.Register(&Tool{
		Name:        "tool_list_members",
		Description: "List every registered garden member name.",
		Parameters:  objectSchema(map[string]any{}),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			names, err := deps.Members.List()
			if err != nil {
				return "", err
			}
			if len(names) == 0 {
				return "No members registered yet.", nil
			}
			return "Registered members: " + strings.Join(names, ", "), nil
		},
	})

	reg.Register(&Tool{
		Name:        "tool_generate_calendar",
		Description: "Scan the entire knowledge library and regenerate planting_calendar.md from the planting dates it finds.",
		Parameters:  objectSchema(map[string]any{}),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			n, err := lib.GenerateCalendar()
			if err != nil {
				return "", err
			}
			if n == 0 {
				return "Regenerated planting_calendar.md, but no planting dates were found in the library.", nil
			}
			return fmt.Sprintf("Regenerated planting_calendar.md with entries for %d plant(s).", n), nil
		},
	})

	if deps.Search != nil && deps.Search.Configured() {
		reg.Register(&Tool{
			Name:        "tool_web_search",
			Description: "Search the web. Use when the knowledge library lacks the answer, then cite what you found.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Result count, 1 to 10. Default 5.",
				},
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				query := argString(args, "query")
				if query == "" {
					return "", fmt.Errorf("query is required")
				}
				count := argInt(args, "max_results")
				if count < 1 {
					count = 5
				}
				if count > 10 {
					count = 10
				}
				results, err := deps.Search.Search(ctx, query, search.Options{Count: count})
				if err != nil {
					return "", fmt.Errorf("web search failed: %w", err)
				}
				return search.FormatResults(query, results), nil
			},
		})
	}

	if deps.Fetch != nil {
		reg.Register(&Tool{
			Name:        "tool_fetch_page",
			Description: "Download a web page and return its readable text, with provenance header for ingestion.",
			Parameters: objectSchema(map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page URL.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Optional character cap on the extracted text.",
				},
			}, "url"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				rawURL := argString(args, "url")
				if rawURL == "" {
					return "", fmt.Errorf("url is required")
				}
				result, err := deps.Fetch.Fetch(ctx, rawURL, argInt(args, "max_chars"))
				if err != nil {
					return "", err
				}
				return result.IngestText(), nil
			},
		})
	}

	if deps.Weather != nil && deps.Weather.Configured() {
		reg.Register(&Tool{
			Name:        "tool_get_weather",
			Description: "Get current conditions and the 48-hour forecast for the garden, including frost and rain alerts.",
			Parameters:  objectSchema(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				current, err := deps.Weather.Current(ctx)
				if err != nil {
					return "", err
				}
				forecast, err := deps.Weather.Forecast48h(ctx)
				if err != nil {
					return "", err
				}
				return current + "\n" + forecast.Summary, nil
			},
		})
	}

	deps.Logger.Info("garden tools registered", "count", len(reg.Names()))
}

// objectSchema builds the JSON-schema object shape every tool uses.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// argInt tolerates the float64 that JSON decoding produces.
func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		// A single string is accepted as a one-element list.
		if s := argString(args, key); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
