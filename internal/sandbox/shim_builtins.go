package sandbox

// Embedded JS builtins. These run through the regular module wrapper, so
// they may require other builtins.

const eventsSource = `
class EventEmitter {
  constructor() {
    this._events = {};
    this._maxListeners = 10;
  }
  on(name, fn) {
    (this._events[name] = this._events[name] || []).push(fn);
    return this;
  }
  addListener(name, fn) { return this.on(name, fn); }
  once(name, fn) {
    const wrapped = (...args) => {
      this.off(name, wrapped);
      fn.apply(this, args);
    };
    wrapped.listener = fn;
    return this.on(name, wrapped);
  }
  off(name, fn) {
    const list = this._events[name];
    if (!list) return this;
    this._events[name] = list.filter(l => l !== fn && l.listener !== fn);
    return this;
  }
  removeListener(name, fn) { return this.off(name, fn); }
  removeAllListeners(name) {
    if (name === undefined) this._events = {};
    else delete this._events[name];
    return this;
  }
  emit(name, ...args) {
    const list = this._events[name];
    if (!list || list.length === 0) {
      if (name === 'error') throw args[0] || new Error('unhandled error event');
      return false;
    }
    for (const fn of [...list]) fn.apply(this, args);
    return true;
  }
  listenerCount(name) {
    return (this._events[name] || []).length;
  }
  setMaxListeners(n) { this._maxListeners = n; return this; }
}

module.exports = EventEmitter;
module.exports.EventEmitter = EventEmitter;
module.exports.once = function(emitter, name) {
  return new Promise(resolve => emitter.once(name, (...args) => resolve(args)));
};
`

const streamSource = `
const EventEmitter = require('events');

class Readable extends EventEmitter {
  constructor(options) {
    super();
    this._chunks = [];
    this._ended = false;
    this.readable = true;
    if (options && options.read) this._read = options.read;
  }
  push(chunk) {
    if (chunk === null) {
      this._ended = true;
      process.nextTick(() => this.emit('end'));
      return false;
    }
    this._chunks.push(chunk);
    process.nextTick(() => this.emit('data', chunk));
    return true;
  }
  read() {
    return this._chunks.length ? this._chunks.shift() : null;
  }
  pipe(destination) {
    this.on('data', chunk => destination.write(chunk));
    this.on('end', () => destination.end());
    return destination;
  }
}

class Writable extends EventEmitter {
  constructor(options) {
    super();
    this.writable = true;
    this._written = [];
    if (options && options.write) this._write = options.write;
  }
  write(chunk, encoding, callback) {
    if (typeof encoding === 'function') { callback = encoding; encoding = undefined; }
    this._written.push(chunk);
    if (this._write) this._write(chunk, encoding, callback || (() => {}));
    else if (callback) process.nextTick(callback);
    return true;
  }
  end(chunk) {
    if (chunk !== undefined && chunk !== null) this.write(chunk);
    this.writable = false;
    process.nextTick(() => this.emit('finish'));
    return this;
  }
}

class PassThrough extends Readable {
  write(chunk) { return this.push(chunk); }
  end() { return this.push(null); }
}

module.exports = { Readable, Writable, PassThrough, Stream: Readable };
`

const utilSource = `
module.exports.inherits = function(ctor, superCtor) {
  Object.setPrototypeOf(ctor.prototype, superCtor.prototype);
  ctor.super_ = superCtor;
};

module.exports.format = function(fmt, ...args) {
  if (typeof fmt !== 'string') {
    return [fmt, ...args].map(String).join(' ');
  }
  let i = 0;
  let out = fmt.replace(/%[sdij%]/g, spec => {
    if (spec === '%%') return '%';
    if (i >= args.length) return spec;
    const arg = args[i++];
    switch (spec) {
      case '%s': return String(arg);
      case '%d': return Number(arg);
      case '%i': return parseInt(arg, 10);
      case '%j': try { return JSON.stringify(arg); } catch (e) { return '[Circular]'; }
      default: return spec;
    }
  });
  for (; i < args.length; i++) out += ' ' + String(args[i]);
  return out;
};

module.exports.promisify = function(fn) {
  return function(...args) {
    return new Promise((resolve, reject) => {
      fn.call(this, ...args, (err, value) => err ? reject(err) : resolve(value));
    });
  };
};

module.exports.deprecate = function(fn) { return fn; };
module.exports.inspect = function(value) { return JSON.stringify(value); };
module.exports.types = {
  isDate: v => v instanceof Date,
  isRegExp: v => v instanceof RegExp,
};
`

// workerSource is API-shape-compatible only: constructing a Worker fails at
// start(), and the messaging surface is inert. Enough for feature probes.
const workerSource = `
const EventEmitter = require('events');

class MessagePort extends EventEmitter {
  postMessage(value) {
    if (this._peer) {
      const peer = this._peer;
      process.nextTick(() => peer.emit('message', value));
    }
  }
  start() {}
  close() { this._peer = null; }
}

class MessageChannel {
  constructor() {
    this.port1 = new MessagePort();
    this.port2 = new MessagePort();
    this.port1._peer = this.port2;
    this.port2._peer = this.port1;
  }
}

class Worker extends EventEmitter {
  constructor(filename) {
    super();
    this.threadId = -1;
    const err = new Error('worker threads are not available in this runtime');
    err.code = 'ERR_WORKER_UNSUPPORTED';
    process.nextTick(() => this.emit('error', err));
  }
  postMessage() {}
  terminate() { return Promise.resolve(0); }
}

module.exports = {
  Worker,
  MessageChannel,
  MessagePort,
  isMainThread: true,
  parentPort: null,
  threadId: 0,
  workerData: null,
};
`
