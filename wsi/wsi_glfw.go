// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// window implements Window using a GLFW window handle.
type window struct {
	win    *glfw.Window
	width  int
	height int
	title  string
	mapped bool
}

var glfwMu sync.Mutex

// initGLFW sets up glfw as the wsi backend.
func initGLFW() error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("wsi: glfw init failed: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	newWindow = newWindowGLFW
	dispatch = dispatchGLFW
	setAppName = setAppNameGLFW
	switch glfw.GetPlatform() {
	case glfw.PlatformWayland:
		platform = Wayland
	case glfw.PlatformX11:
		platform = XCB
	case glfw.PlatformWin32:
		platform = Win32
	default:
		platform = None
	}
	return nil
}

func newWindowGLFW(width, height int, title string) (Window, error) {
	glfwMu.Lock()
	defer glfwMu.Unlock()
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("wsi: failed to create window: %w", err)
	}
	w := &window{win: win, width: width, height: height, title: title}
	win.SetCloseCallback(func(*glfw.Window) {
		if windowHandler != nil {
			windowHandler.WindowClose(w)
		}
	})
	win.SetSizeCallback(func(_ *glfw.Window, width, height int) {
		w.width, w.height = width, height
		if windowHandler != nil {
			windowHandler.WindowResize(w, width, height)
		}
	})
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, mods glfw.ModifierKey) {
		if keyboardHandler == nil || action == glfw.Repeat {
			return
		}
		keyboardHandler.KeyboardKey(keyFrom(int(key)), action == glfw.Press, convMods(mods))
	})
	win.SetCursorEnterCallback(func(_ *glfw.Window, entered bool) {
		if pointerHandler == nil {
			return
		}
		x, y := win.GetCursorPos()
		if entered {
			pointerHandler.PointerIn(w, int(x), int(y))
		} else {
			pointerHandler.PointerOut(w)
		}
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		if pointerHandler != nil {
			pointerHandler.PointerMotion(int(x), int(y))
		}
	})
	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if pointerHandler == nil {
			return
		}
		x, y := win.GetCursorPos()
		pointerHandler.PointerButton(convButton(button), action == glfw.Press, int(x), int(y))
	})
	return w, nil
}

func dispatchGLFW() {
	glfw.PollEvents()
}

func setAppNameGLFW(string) {}

func (w *window) Map() error {
	w.win.Show()
	w.mapped = true
	return nil
}

func (w *window) Unmap() error {
	w.win.Hide()
	w.mapped = false
	return nil
}

func (w *window) Resize(width, height int) error {
	w.win.SetSize(width, height)
	w.width, w.height = width, height
	return nil
}

func (w *window) SetTitle(title string) error {
	w.win.SetTitle(title)
	w.title = title
	return nil
}

func (w *window) Close() {
	closeWindow(w)
	w.win.Destroy()
}

func (w *window) Width() int  { return w.width }
func (w *window) Height() int { return w.height }
func (w *window) Title() string { return w.title }

// Handle returns the underlying *glfw.Window, for use by
// gpu drivers that need to create a presentation surface.
func (w *window) Handle() *glfw.Window { return w.win }

// Handle returns the *glfw.Window backing win, or an error
// if win was not created by this wsi implementation.
func Handle(win Window) (*glfw.Window, error) {
	w, ok := win.(*window)
	if !ok {
		return nil, errors.New("wsi: window was not created by the glfw backend")
	}
	return w.win, nil
}

func convMods(mods glfw.ModifierKey) (m Modifier) {
	if mods&glfw.ModCapsLock != 0 {
		m |= ModCapsLock
	}
	if mods&glfw.ModShift != 0 {
		m |= ModShift
	}
	if mods&glfw.ModControl != 0 {
		m |= ModCtrl
	}
	if mods&glfw.ModAlt != 0 {
		m |= ModAlt
	}
	return
}

func convButton(b glfw.MouseButton) Button {
	switch b {
	case glfw.MouseButtonLeft:
		return BtnLeft
	case glfw.MouseButtonRight:
		return BtnRight
	case glfw.MouseButtonMiddle:
		return BtnMiddle
	case glfw.MouseButton4:
		return BtnSide
	case glfw.MouseButton5:
		return BtnForward
	}
	return BtnUnknown
}

// keymap maps glfw.Key values (and thus GLFW's platform-independent
// key codes) to wsi Key values. Indices with no corresponding
// key resolve to KeyUnknown through the zero value.
var keymap = func() [glfw.KeyLast + 1]Key {
	var m [glfw.KeyLast + 1]Key
	set := func(k glfw.Key, v Key) { m[k] = v }
	set(glfw.KeyGraveAccent, KeyGrave)
	set(glfw.Key1, Key1)
	set(glfw.Key2, Key2)
	set(glfw.Key3, Key3)
	set(glfw.Key4, Key4)
	set(glfw.Key5, Key5)
	set(glfw.Key6, Key6)
	set(glfw.Key7, Key7)
	set(glfw.Key8, Key8)
	set(glfw.Key9, Key9)
	set(glfw.Key0, Key0)
	set(glfw.KeyMinus, KeyMinus)
	set(glfw.KeyEqual, KeyEqual)
	set(glfw.KeyBackspace, KeyBackspace)
	set(glfw.KeyTab, KeyTab)
	set(glfw.KeyQ, KeyQ)
	set(glfw.KeyW, KeyW)
	set(glfw.KeyE, KeyE)
	set(glfw.KeyR, KeyR)
	set(glfw.KeyT, KeyT)
	set(glfw.KeyY, KeyY)
	set(glfw.KeyU, KeyU)
	set(glfw.KeyI, KeyI)
	set(glfw.KeyO, KeyO)
	set(glfw.KeyP, KeyP)
	set(glfw.KeyLeftBracket, KeyLBracket)
	set(glfw.KeyRightBracket, KeyRBracket)
	set(glfw.KeyBackslash, KeyBackslash)
	set(glfw.KeyCapsLock, KeyCapsLock)
	set(glfw.KeyA, KeyA)
	set(glfw.KeyS, KeyS)
	set(glfw.KeyD, KeyD)
	set(glfw.KeyF, KeyF)
	set(glfw.KeyG, KeyG)
	set(glfw.KeyH, KeyH)
	set(glfw.KeyJ, KeyJ)
	set(glfw.KeyK, KeyK)
	set(glfw.KeyL, KeyL)
	set(glfw.KeySemicolon, KeySemicolon)
	set(glfw.KeyApostrophe, KeyApostrophe)
	set(glfw.KeyEnter, KeyReturn)
	set(glfw.KeyLeftShift, KeyLShift)
	set(glfw.KeyZ, KeyZ)
	set(glfw.KeyX, KeyX)
	set(glfw.KeyC, KeyC)
	set(glfw.KeyV, KeyV)
	set(glfw.KeyB, KeyB)
	set(glfw.KeyN, KeyN)
	set(glfw.KeyM, KeyM)
	set(glfw.KeyComma, KeyComma)
	set(glfw.KeyPeriod, KeyDot)
	set(glfw.KeySlash, KeySlash)
	set(glfw.KeyRightShift, KeyRShift)
	set(glfw.KeyLeftControl, KeyLCtrl)
	set(glfw.KeyLeftAlt, KeyLAlt)
	set(glfw.KeyLeftSuper, KeyLMeta)
	set(glfw.KeySpace, KeySpace)
	set(glfw.KeyRightSuper, KeyRMeta)
	set(glfw.KeyRightAlt, KeyRAlt)
	set(glfw.KeyRightControl, KeyRCtrl)
	set(glfw.KeyEscape, KeyEsc)
	set(glfw.KeyF1, KeyF1)
	set(glfw.KeyF2, KeyF2)
	set(glfw.KeyF3, KeyF3)
	set(glfw.KeyF4, KeyF4)
	set(glfw.KeyF5, KeyF5)
	set(glfw.KeyF6, KeyF6)
	set(glfw.KeyF7, KeyF7)
	set(glfw.KeyF8, KeyF8)
	set(glfw.KeyF9, KeyF9)
	set(glfw.KeyF10, KeyF10)
	set(glfw.KeyF11, KeyF11)
	set(glfw.KeyF12, KeyF12)
	set(glfw.KeyInsert, KeyInsert)
	set(glfw.KeyDelete, KeyDelete)
	set(glfw.KeyHome, KeyHome)
	set(glfw.KeyEnd, KeyEnd)
	set(glfw.KeyPageUp, KeyPageUp)
	set(glfw.KeyPageDown, KeyPageDown)
	set(glfw.KeyUp, KeyUp)
	set(glfw.KeyDown, KeyDown)
	set(glfw.KeyLeft, KeyLeft)
	set(glfw.KeyRight, KeyRight)
	set(glfw.KeyPrintScreen, KeySysrq)
	set(glfw.KeyScrollLock, KeyScrollLock)
	set(glfw.KeyPause, KeyPause)
	set(glfw.KeyNumLock, KeyPadNumLock)
	set(glfw.KeyKPDivide, KeyPadSlash)
	set(glfw.KeyKPMultiply, KeyPadStar)
	set(glfw.KeyKPSubtract, KeyPadMinus)
	set(glfw.KeyKPAdd, KeyPadPlus)
	set(glfw.KeyKP1, KeyPad1)
	set(glfw.KeyKP2, KeyPad2)
	set(glfw.KeyKP3, KeyPad3)
	set(glfw.KeyKP4, KeyPad4)
	set(glfw.KeyKP5, KeyPad5)
	set(glfw.KeyKP6, KeyPad6)
	set(glfw.KeyKP7, KeyPad7)
	set(glfw.KeyKP8, KeyPad8)
	set(glfw.KeyKP9, KeyPad9)
	set(glfw.KeyKP0, KeyPad0)
	set(glfw.KeyKPDecimal, KeyPadDot)
	set(glfw.KeyKPEnter, KeyPadEnter)
	set(glfw.KeyKPEqual, KeyPadEqual)
	set(glfw.KeyF13, KeyF13)
	set(glfw.KeyF14, KeyF14)
	set(glfw.KeyF15, KeyF15)
	set(glfw.KeyF16, KeyF16)
	set(glfw.KeyF17, KeyF17)
	set(glfw.KeyF18, KeyF18)
	set(glfw.KeyF19, KeyF19)
	set(glfw.KeyF20, KeyF20)
	set(glfw.KeyF21, KeyF21)
	set(glfw.KeyF22, KeyF22)
	set(glfw.KeyF23, KeyF23)
	set(glfw.KeyF24, KeyF24)
	return m
}()
