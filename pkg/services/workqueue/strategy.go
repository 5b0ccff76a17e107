package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStartLLM returns true if an LLM task can start given current state
	CanStartLLM() bool
	// CanStartData returns true if a data task can start given current state
	CanStartData() bool
	// OnStartLLM is called when an LLM task starts
	OnStartLLM()
	// OnStartData is called when a data task starts
	OnStartData()
	// OnCompleteLLM is called when an LLM task completes
	OnCompleteLLM()
	// OnCompleteData is called when a data task completes
	OnCompleteData()
}

// ============================================================================
// SerializedStrategy - one LLM task at a time, one data task at a time
// ============================================================================

// SerializedStrategy serializes both LLM and data tasks. Only one LLM task
// and one data task can run at a time, but an LLM task and a data task can
// run in parallel. This is the default: pair scans issue store-wide count
// queries and running several at once just contends on the graph store.
type SerializedStrategy struct {
	mu          sync.Mutex
	llmRunning  bool
	dataRunning bool
}

// NewSerializedStrategy creates a strategy that serializes LLM tasks
// (only one at a time) and serializes data tasks (only one at a time).
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.llmRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ============================================================================
// ThrottledLLMStrategy - up to N parallel LLM tasks
// ============================================================================

// ThrottledLLMStrategy allows up to maxConcurrent LLM tasks to run in
// parallel. Data tasks are still serialized (only one at a time). Candidate
// evaluation runs under this strategy with the configured evaluator
// concurrency.
type ThrottledLLMStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	llmRunning    int
	dataRunning   bool
}

// NewThrottledLLMStrategy creates a strategy that allows up to maxConcurrent
// LLM tasks to run in parallel while serializing data tasks.
func NewThrottledLLMStrategy(maxConcurrent int) *ThrottledLLMStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledLLMStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledLLMStrategy) CanStartLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmRunning < s.maxConcurrent
}

func (s *ThrottledLLMStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ThrottledLLMStrategy) OnStartLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning++
}

func (s *ThrottledLLMStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ThrottledLLMStrategy) OnCompleteLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.llmRunning > 0 {
		s.llmRunning--
	}
}

func (s *ThrottledLLMStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ============================================================================
// PooledStrategy - bounded pools for both task kinds
// ============================================================================

// PooledStrategy allows up to maxData data tasks and up to maxLLM LLM tasks
// to run in parallel. Discovery jobs run their queue under this strategy:
// pair scans are bounded by the scan worker count and evaluator calls by the
// evaluator worker count.
type PooledStrategy struct {
	mu          sync.Mutex
	maxData     int
	maxLLM      int
	dataRunning int
	llmRunning  int
}

// NewPooledStrategy creates a strategy with independent bounds for data and
// LLM tasks. Bounds below one are raised to one.
func NewPooledStrategy(maxData, maxLLM int) *PooledStrategy {
	if maxData < 1 {
		maxData = 1
	}
	if maxLLM < 1 {
		maxLLM = 1
	}
	return &PooledStrategy{
		maxData: maxData,
		maxLLM:  maxLLM,
	}
}

func (s *PooledStrategy) CanStartLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmRunning < s.maxLLM
}

func (s *PooledStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataRunning < s.maxData
}

func (s *PooledStrategy) OnStartLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning++
}

func (s *PooledStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning++
}

func (s *PooledStrategy) OnCompleteLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.llmRunning > 0 {
		s.llmRunning--
	}
}

func (s *PooledStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataRunning > 0 {
		s.dataRunning--
	}
}
