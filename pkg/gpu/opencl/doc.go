// Package opencl implements the compute device API on the system OpenCL driver.
//
// Each compute handle wraps the matching OpenCL object (cl_platform_id,
// cl_device_id, cl_context, cl_command_queue, cl_mem, cl_program, cl_kernel)
// and every call returns the driver's raw status as a *compute.DeviceError.
// A failed clBuildProgram carries the device build log.
//
// # Requirements
//
// For AMD GPUs on Linux:
//   - ROCm (Radeon Open Compute): https://rocm.docs.amd.com/
//   - Or AMD GPU drivers with OpenCL support
//
// For AMD GPUs on Windows:
//   - AMD Adrenalin drivers with OpenCL support
//
// For Intel GPUs:
//   - Intel oneAPI or Intel OpenCL runtime
//
// For NVIDIA GPUs:
//   - NVIDIA drivers with OpenCL support
//
// Any installed ICD (including CPU runtimes such as PoCL) is enumerated.
//
// # Build Tags
//
// This package is only compiled against the driver when the "opencl" build
// tag is present:
//
//	go build -tags opencl ./cmd/vecadd
//
// Without the tag a stub is compiled: NewRuntime returns
// ErrOpenCLNotAvailable and Platforms reports CL_PLATFORM_NOT_FOUND_KHR.
//
// # Environment Variables
//
// Linux (AMD ROCm):
//
//	export LD_LIBRARY_PATH=/opt/rocm/opencl/lib:$LD_LIBRARY_PATH
//
// macOS:
//
//	OpenCL is deprecated but still shipped as a system framework.
//
// Windows:
//
//	OpenCL drivers are typically included with GPU drivers.
//
// # Example
//
//	rt, err := opencl.NewRuntime()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	platforms, err := rt.Platforms()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gpus, err := platforms[0].Devices(compute.DeviceTypeGPU)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, err := rt.CreateContext(gpus[0])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Release()
package opencl
