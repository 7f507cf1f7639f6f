package crawlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/tagaudit/internal/models"
	"github.com/google/uuid"
)

// captureScriptTemplate 在页面任何脚本之前执行
// 记录保存在闭包中,只通过 window[KEY] 上不可枚举的 drain/clear/rewrap 暴露
const captureScriptTemplate = `(function () {
  var KEY = "__KEY__";
  var MARK = "__tagAuditWrapped";
  if (window[KEY]) { return; }

  var store = { calls: [], pushes: [] };
  var forwarding = 0;

  function isArgs(v) {
    return Object.prototype.toString.call(v) === "[object Arguments]";
  }

  function sanitize(value, seen, depth) {
    if (value === undefined || value === null) { return null; }
    var type = typeof value;
    if (type === "function") { return "[function]"; }
    if (type === "string" || type === "boolean") { return value; }
    if (type === "number") { return isFinite(value) ? value : String(value); }
    if (type !== "object") { return String(value); }
    if (value === window) { return "[window]"; }
    if (typeof Node !== "undefined" && value instanceof Node) { return "[node " + value.nodeName + "]"; }
    if (depth > 10) { return "[depth]"; }
    if (seen.indexOf(value) !== -1) { return "[circular]"; }
    seen.push(value);
    var out;
    if (Array.isArray(value) || isArgs(value)) {
      out = [];
      for (var i = 0; i < value.length; i++) { out.push(sanitize(value[i], seen, depth + 1)); }
    } else {
      out = {};
      var keys;
      try { keys = Object.keys(value); } catch (e) { keys = []; }
      for (var k = 0; k < keys.length; k++) {
        var v;
        try { v = value[keys[k]]; } catch (e) { v = "[unreadable]"; }
        out[keys[k]] = sanitize(v, seen, depth + 1);
      }
    }
    seen.pop();
    return out;
  }

  function record(list, args, viaCommand) {
    try {
      var entry = { t: Date.now(), args: sanitize(args, [], 0) };
      if (viaCommand) { entry.via_command = true; }
      list.push(entry);
    } catch (e) {}
  }

  function wrapQueue(queue) {
    if (!queue || typeof queue.push !== "function" || queue[MARK]) { return queue; }
    for (var i = 0; i < queue.length; i++) { record(store.pushes, [queue[i]]); }
    var original = queue.push;
    var wrapped = function () {
      for (var j = 0; j < arguments.length; j++) { record(store.pushes, [arguments[j]], forwarding > 0); }
      return original.apply(this, arguments);
    };
    try {
      Object.defineProperty(queue, "push", { value: wrapped, writable: true, configurable: true });
      Object.defineProperty(queue, MARK, { value: true });
    } catch (e) {
      queue.push = wrapped;
    }
    return queue;
  }

  function wrapCommand(fn) {
    if (typeof fn === "function" && fn[MARK]) { return fn; }
    var original = typeof fn === "function" ? fn : null;
    var wrapped = function () {
      record(store.calls, arguments);
      if (!original) { return; }
      forwarding++;
      try {
        return original.apply(this, arguments);
      } finally {
        forwarding--;
      }
    };
    if (original) {
      var keys = Object.keys(original);
      for (var i = 0; i < keys.length; i++) {
        try { wrapped[keys[i]] = original[keys[i]]; } catch (e) {}
      }
    }
    try { Object.defineProperty(wrapped, MARK, { value: true }); } catch (e) {}
    return wrapped;
  }

  var queueRef = wrapQueue(window.dataLayer || []);
  try {
    Object.defineProperty(window, "dataLayer", {
      configurable: true,
      enumerable: true,
      get: function () { return queueRef; },
      set: function (next) { queueRef = wrapQueue(next); }
    });
  } catch (e) {
    window.dataLayer = queueRef;
  }

  window.gtag = wrapCommand(window.gtag);

  Object.defineProperty(window, KEY, {
    enumerable: false,
    value: {
      drain: function () { return JSON.stringify(store); },
      clear: function () { store.calls = []; store.pushes = []; },
      rewrap: function () {
        var wasWrapped = typeof window.gtag === "function" && !!window.gtag[MARK];
        window.gtag = wrapCommand(window.gtag);
        wrapQueue(window.dataLayer);
        return !wasWrapped;
      }
    }
  });
})();`

// CaptureScript 绑定到单个页面的捕获脚本
type CaptureScript struct {
	key string
}

// NewCaptureScript 生成带随机键的捕获脚本
func NewCaptureScript() *CaptureScript {
	return &CaptureScript{key: "__tagaudit_" + strings.ReplaceAll(uuid.NewString(), "-", "")}
}

// Key 页面上存放捕获接口的全局属性名
func (s *CaptureScript) Key() string {
	return s.key
}

// Source 注入页面的脚本源码
func (s *CaptureScript) Source() string {
	return strings.Replace(captureScriptTemplate, "__KEY__", s.key, 1)
}

// DrainJS 返回捕获记录JSON的表达式
func (s *CaptureScript) DrainJS() string {
	return fmt.Sprintf(`() => window[%q] ? window[%q].drain() : ""`, s.key, s.key)
}

// ClearJS 清空捕获记录的表达式
func (s *CaptureScript) ClearJS() string {
	return fmt.Sprintf(`() => { if (window[%q]) { window[%q].clear(); } }`, s.key, s.key)
}

// RewrapJS 重新包装gtag的表达式,返回本次是否发生了重新包装
func (s *CaptureScript) RewrapJS() string {
	return fmt.Sprintf(`() => window[%q] ? window[%q].rewrap() : false`, s.key, s.key)
}

// capturedStore 页面内store的JSON结构
type capturedStore struct {
	Calls  []models.TagCallEvent `json:"calls"`
	Pushes []models.TagCallEvent `json:"pushes"`
}

// ParseCapturedStore 解析drain返回的JSON,空串表示脚本未安装
func ParseCapturedStore(raw string) (calls, pushes []models.TagCallEvent, err error) {
	if strings.TrimSpace(raw) == "" {
		return []models.TagCallEvent{}, []models.TagCallEvent{}, nil
	}
	var store capturedStore
	if err := json.Unmarshal([]byte(raw), &store); err != nil {
		return nil, nil, fmt.Errorf("解析捕获记录失败: %w", err)
	}
	if store.Calls == nil {
		store.Calls = []models.TagCallEvent{}
	}
	if store.Pushes == nil {
		store.Pushes = []models.TagCallEvent{}
	}
	return store.Calls, store.Pushes, nil
}
