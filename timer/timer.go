// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/wfunc/tictactoe/logger"
)

// DefaultResolution is how often the manager checks for due tasks.
const DefaultResolution = 100 * time.Millisecond

type TimerTask struct {
	Id       int64
	Execute  time.Time
	Interval time.Duration
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x any) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs one-shot and repeating callbacks from a single heap.
// A repeating task never overlaps itself: its next run is scheduled only
// after the callback returns.
type TimerManager struct {
	queue      TimerQueue
	tasks      map[int64]*TimerTask
	mutex      sync.Mutex
	nextId     int64
	resolution time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewTimerManager() *TimerManager {
	return NewTimerManagerWithResolution(DefaultResolution)
}

func NewTimerManagerWithResolution(resolution time.Duration) *TimerManager {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	manager := &TimerManager{
		queue:      make(TimerQueue, 0),
		tasks:      make(map[int64]*TimerTask),
		nextId:     1,
		resolution: resolution,
		stop:       make(chan struct{}),
	}
	heap.Init(&manager.queue)
	manager.wg.Add(1)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval when
// interval > 0. It returns the id for RemoveTimer.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &TimerTask{
		Id:       m.nextId,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++

	m.tasks[task.Id] = task
	heap.Push(&m.queue, task)
	return task.Id
}

// RemoveTimer cancels a task. A callback already running finishes, but a
// repeating task is not scheduled again.
func (m *TimerManager) RemoveTimer(timerId int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.tasks[timerId]
	if !ok {
		return
	}
	delete(m.tasks, timerId)
	if task.index >= 0 {
		heap.Remove(&m.queue, task.index)
	}
}

// Len returns the number of scheduled tasks.
func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop halts scheduling and waits for running callbacks to return.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func (m *TimerManager) process() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, task := range m.due(time.Now()) {
				m.wg.Add(1)
				go m.run(task)
			}
		case <-m.stop:
			return
		}
	}
}

// due pops every task whose time has come.
func (m *TimerManager) due(now time.Time) []*TimerTask {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var ready []*TimerTask
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		ready = append(ready, task)
	}
	return ready
}

func (m *TimerManager) run(task *TimerTask) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorw("timer callback panicked", "timer", task.Id, "panic", r)
		}
		m.reschedule(task)
	}()

	task.Callback()
}

func (m *TimerManager) reschedule(task *TimerTask) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.tasks[task.Id]; !ok {
		return
	}
	if task.Interval <= 0 {
		delete(m.tasks, task.Id)
		return
	}
	select {
	case <-m.stop:
		return
	default:
	}
	task.Execute = time.Now().Add(task.Interval)
	heap.Push(&m.queue, task)
}
