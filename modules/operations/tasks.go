package operations

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/atlascmd/assetos/modules/comms"
)

// queuedTask is a task accepted from a check-in response and awaiting
// execution.
type queuedTask struct {
	TaskID     string
	Command    string
	Parameters map[string]any

	// SkipStart is set for tasks already marked in progress upstream so
	// a second start_task is not reported.
	SkipStart bool
}

func (m *Manager) handleCommandRegister(data any) {
	reg, ok := data.(CommandRegistration)
	if !ok || reg.Command == "" || reg.Handler == nil {
		return
	}
	m.taskMu.Lock()
	m.handlers[reg.Command] = reg.Handler
	m.taskMu.Unlock()
	m.publishTaskCatalog()
}

func (m *Manager) handleCommandUnregister(data any) {
	reg, ok := data.(CommandRegistration)
	if !ok || reg.Command == "" {
		return
	}
	m.taskMu.Lock()
	delete(m.handlers, reg.Command)
	m.taskMu.Unlock()
	m.publishTaskCatalog()
}

// publishTaskCatalog advertises the supported task commands to the
// command service as an entity component.
func (m *Manager) publishTaskCatalog() {
	entityID := m.atlas.Asset.ID
	if entityID == "" {
		return
	}
	m.taskMu.Lock()
	supported := make([]string, 0, len(m.handlers))
	for command := range m.handlers {
		supported = append(supported, command)
	}
	m.taskMu.Unlock()
	sort.Strings(supported)

	m.bus.Publish(comms.TopicRequest, comms.Request{
		Function: "update_entity",
		Args: map[string]any{
			"entity_id": entityID,
			"components": map[string]any{
				"task_catalog": map[string]any{"supported_tasks": supported},
			},
		},
		RequestID: "task-catalog-" + uuid.NewString(),
	})
}

// enqueueTask accepts one task from a check-in response. Tasks are
// deduplicated by id; tasks for commands with no registered handler are
// failed upstream immediately and remembered so they are not retried.
func (m *Manager) enqueueTask(task map[string]any) {
	taskID, _ := task["task_id"].(string)
	if taskID == "" {
		return
	}
	status, _ := task["status"].(string)
	if status == "" {
		status = "pending"
	}
	if status != "pending" && status != "in_progress" {
		return
	}

	m.taskMu.Lock()
	if _, known := m.knownTaskIDs[taskID]; known {
		m.taskMu.Unlock()
		return
	}
	m.taskMu.Unlock()

	command := taskID
	components, _ := task["components"].(map[string]any)
	parameters, _ := components["parameters"].(map[string]any)
	if name, ok := parameters["command"].(string); ok && name != "" {
		command = name
	} else if name, ok := components["command_name"].(string); ok && name != "" {
		command = name
	}

	m.taskMu.Lock()
	_, registered := m.handlers[command]
	if registered {
		m.knownTaskIDs[taskID] = struct{}{}
		m.taskQueue = append(m.taskQueue, queuedTask{
			TaskID:     taskID,
			Command:    command,
			Parameters: parameters,
			SkipStart:  status == "in_progress",
		})
		m.taskMu.Unlock()
		return
	}
	m.knownTaskIDs[taskID] = struct{}{}
	m.taskMu.Unlock()

	m.logger.Warn("No handler registered for task command", "task_id", taskID, "command", command)
	m.bus.Publish(comms.TopicRequest, comms.Request{
		Function: "fail_task",
		Args: map[string]any{
			"task_id":       taskID,
			"error_message": "No handler registered for command",
		},
	})
}

// maybeDispatchTask starts execution of the next queued task. At most
// one task executes at a time.
func (m *Manager) maybeDispatchTask() {
	m.taskMu.Lock()
	if m.activeTask || len(m.taskQueue) == 0 {
		m.taskMu.Unlock()
		return
	}
	task := m.taskQueue[0]
	m.taskQueue = m.taskQueue[1:]
	m.activeTask = true
	m.taskMu.Unlock()

	go m.executeTask(task)
}

func (m *Manager) executeTask(task queuedTask) {
	m.taskMu.Lock()
	handler := m.handlers[task.Command]
	m.taskMu.Unlock()
	if handler == nil {
		m.finalizeTask(task.TaskID, nil, fmt.Errorf("no handler registered for %q", task.Command))
		return
	}
	if !task.SkipStart {
		m.bus.Publish(comms.TopicRequest, comms.Request{
			Function: "start_task",
			Args:     map[string]any{"task_id": task.TaskID},
		})
	}
	result, err := runTaskHandler(handler, task.Parameters)
	m.finalizeTask(task.TaskID, result, err)
}

// runTaskHandler invokes a handler and converts a panic into an error
// so one misbehaving handler cannot take down the dispatcher.
func runTaskHandler(handler TaskHandler, params map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return handler(params)
}

// finalizeTask reports the task outcome upstream and releases the
// single-flight slot.
func (m *Manager) finalizeTask(taskID string, result map[string]any, err error) {
	if taskID != "" {
		if err == nil {
			args := map[string]any{"task_id": taskID}
			if result != nil {
				args["result"] = result
			}
			m.bus.Publish(comms.TopicRequest, comms.Request{Function: "complete_task", Args: args})
		} else {
			m.bus.Publish(comms.TopicRequest, comms.Request{
				Function: "fail_task",
				Args:     map[string]any{"task_id": taskID, "error_message": err.Error()},
			})
		}
	}
	m.taskMu.Lock()
	m.activeTask = false
	m.taskMu.Unlock()
}
